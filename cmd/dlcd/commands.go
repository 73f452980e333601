package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ark-network/dlc/internal/config"
	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/urfave/cli/v2"
)

const defaultFeeTarget = 6

// flags
var (
	msgFlag = &cli.StringFlag{
		Name:     "msg",
		Usage:    "path of the JSON message received from the counterparty, - for stdin",
		Required: true,
	}
	inputFlag = &cli.StringFlag{
		Name:     "input",
		Usage:    "path of the JSON contract input, - for stdin",
		Required: true,
	}
	idFlag = &cli.StringFlag{
		Name:     "id",
		Usage:    "temporary or final contract id",
		Required: true,
	}
	optionalIdFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "temporary or final contract id",
	}
	feeTargetFlag = &cli.UintFlag{
		Name:  "fee-target",
		Usage: "confirmation target in blocks used when the input has no fee rate",
		Value: defaultFeeTarget,
	}
)

// commands
var (
	startCmd = &cli.Command{
		Name:   "start",
		Usage:  "Start the daemon checking contracts periodically",
		Action: startAction,
	}
	addressCmd = &cli.Command{
		Name:   "address",
		Usage:  "Get the wallet address to fund",
		Action: addressAction,
	}
	offerCmd = &cli.Command{
		Name:   "offer",
		Usage:  "Create a contract offer, printing the offer message",
		Action: offerAction,
		Flags:  []cli.Flag{inputFlag, feeTargetFlag},
	}
	onOfferCmd = &cli.Command{
		Name:   "on-offer",
		Usage:  "Record an offer received from the counterparty",
		Action: onOfferAction,
		Flags:  []cli.Flag{msgFlag},
	}
	acceptCmd = &cli.Command{
		Name:   "accept",
		Usage:  "Accept a received offer, printing the accept message",
		Action: acceptAction,
		Flags:  []cli.Flag{idFlag},
	}
	onAcceptCmd = &cli.Command{
		Name:   "on-accept",
		Usage:  "Process the accept message of the counterparty, printing the sign message",
		Action: onAcceptAction,
		Flags:  []cli.Flag{msgFlag},
	}
	onSignCmd = &cli.Command{
		Name:   "on-sign",
		Usage:  "Process the sign message of the counterparty and broadcast the funding tx",
		Action: onSignAction,
		Flags:  []cli.Flag{msgFlag},
	}
	rejectCmd = &cli.Command{
		Name:   "reject",
		Usage:  "Reject a received offer",
		Action: rejectAction,
		Flags:  []cli.Flag{idFlag},
	}
	contractsCmd = &cli.Command{
		Name:   "contracts",
		Usage:  "List the contracts, or show one of them",
		Action: contractsAction,
		Flags:  []cli.Flag{optionalIdFlag},
	}
	checkCmd = &cli.Command{
		Name:   "check",
		Usage:  "Run a single periodic check of the contracts",
		Action: checkAction,
	}
)

func addressAction(ctx *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	addr, err := cfg.WalletService().GetNewAddress(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"address": addr})
}

func offerAction(ctx *cli.Context) error {
	var input application.ContractInput
	if err := readJSON(ctx.String(inputFlag.Name), &input); err != nil {
		return err
	}

	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	if input.FeeRate <= 0 {
		feeRate, err := cfg.BlockchainService().GetFeeRate(
			ctx.Context, uint32(ctx.Uint(feeTargetFlag.Name)),
		)
		if err != nil {
			return fmt.Errorf("failed to estimate fee rate: %s", err)
		}
		input.FeeRate = feeRate
	}

	offer, err := svc.SendOffer(ctx.Context, input)
	if err != nil {
		return err
	}
	return printJSON(offer)
}

func onOfferAction(ctx *cli.Context) error {
	var offer domain.OfferMsg
	if err := readJSON(ctx.String(msgFlag.Name), &offer); err != nil {
		return err
	}

	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	contract, err := svc.OnOffer(ctx.Context, offer)
	if err != nil {
		return err
	}
	return printJSON(contract)
}

func acceptAction(ctx *cli.Context) error {
	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	_, accept, err := svc.AcceptContractOffer(ctx.Context, ctx.String(idFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(accept)
}

func onAcceptAction(ctx *cli.Context) error {
	var accept domain.AcceptMsg
	if err := readJSON(ctx.String(msgFlag.Name), &accept); err != nil {
		return err
	}

	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	sign, err := svc.OnAccept(ctx.Context, accept)
	if err != nil {
		return err
	}
	return printJSON(sign)
}

func onSignAction(ctx *cli.Context) error {
	var sign domain.SignMsg
	if err := readJSON(ctx.String(msgFlag.Name), &sign); err != nil {
		return err
	}

	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	if err := svc.OnSign(ctx.Context, sign); err != nil {
		return err
	}
	contract, err := svc.GetContract(ctx.Context, sign.ContractId)
	if err != nil {
		return err
	}
	return printJSON(contract)
}

func rejectAction(ctx *cli.Context) error {
	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	if err := svc.RejectOffer(ctx.Context, ctx.String(idFlag.Name)); err != nil {
		return err
	}
	fmt.Println("offer rejected")
	return nil
}

func contractsAction(ctx *cli.Context) error {
	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	if id := ctx.String(optionalIdFlag.Name); len(id) > 0 {
		contract, err := svc.GetContract(ctx.Context, id)
		if err != nil {
			return err
		}
		return printJSON(contract)
	}

	contracts, err := svc.GetContracts(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(contracts)
}

func checkAction(ctx *cli.Context) error {
	cfg, svc, err := getAppService()
	if err != nil {
		return err
	}
	defer cfg.RepoManager().Close()

	if err := svc.PeriodicCheck(ctx.Context); err != nil {
		return err
	}
	fmt.Println("contracts checked")
	return nil
}

func getAppService() (*config.Config, *application.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := cfg.AppService()
	if err != nil {
		cfg.RepoManager().Close()
		return nil, nil, err
	}
	return cfg, svc, nil
}

func readJSON(path string, v interface{}) error {
	var buf []byte
	var err error
	if path == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %s", path, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("failed to parse %s: %s", path, err)
	}
	return nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	fmt.Println(string(jsonBytes))
	return nil
}
