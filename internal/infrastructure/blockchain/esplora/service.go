package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Utxo is an unspent output of an address as listed by esplora.
type Utxo struct {
	Txid   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount uint64 `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type outspend struct {
	Spent bool   `json:"spent"`
	Txid  string `json:"txid"`
}

type Service struct {
	url    string
	client *http.Client
}

func NewService(esploraUrl string) (*Service, error) {
	if len(esploraUrl) <= 0 {
		return nil, fmt.Errorf("missing esplora url")
	}
	if _, err := url.Parse(esploraUrl); err != nil {
		return nil, fmt.Errorf("invalid esplora url: %s", err)
	}
	return &Service{
		url:    strings.TrimSuffix(esploraUrl, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

var _ ports.BlockchainService = (*Service)(nil)

func (s *Service) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	endpoint, err := url.JoinPath(s.url, "tx")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(txHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"failed to broadcast transaction: %s (%s)", resp.Status, strings.TrimSpace(string(content)),
		)
	}

	txid := strings.TrimSpace(string(content))
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return "", fmt.Errorf("invalid txid in broadcast response: %s", txid)
	}
	return txid, nil
}

func (s *Service) GetTransaction(ctx context.Context, txid string) (string, error) {
	body, err := s.get(ctx, "tx", txid, "hex")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *Service) GetTransactionConfirmations(ctx context.Context, txid string) (uint32, error) {
	body, err := s.get(ctx, "tx", txid, "status")
	if err != nil {
		return 0, err
	}

	var status txStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return 0, fmt.Errorf("failed to parse tx status: %s", err)
	}
	if !status.Confirmed {
		return 0, nil
	}

	tip, err := s.GetBlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	if tip < status.BlockHeight {
		return 1, nil
	}
	return uint32(tip-status.BlockHeight) + 1, nil
}

func (s *Service) GetOutputSpender(ctx context.Context, txid string, vout uint32) (string, error) {
	body, err := s.get(ctx, "tx", txid, "outspend", strconv.Itoa(int(vout)))
	if err != nil {
		return "", err
	}

	var spend outspend
	if err := json.Unmarshal(body, &spend); err != nil {
		return "", fmt.Errorf("failed to parse outspend: %s", err)
	}
	if !spend.Spent {
		return "", nil
	}
	return spend.Txid, nil
}

func (s *Service) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := s.get(ctx, "blocks", "tip", "height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block height: %s", err)
	}
	return height, nil
}

// GetUtxos returns the unspent outputs of the given address, mempool ones
// included.
func (s *Service) GetUtxos(ctx context.Context, addr string) ([]Utxo, error) {
	body, err := s.get(ctx, "address", addr, "utxo")
	if err != nil {
		return nil, err
	}

	utxos := make([]Utxo, 0)
	if err := json.Unmarshal(body, &utxos); err != nil {
		return nil, fmt.Errorf("failed to parse utxos: %s", err)
	}
	return utxos, nil
}

// GetFeeRate returns the estimated sat/vbyte fee rate to confirm within the
// given number of blocks, falling back to 1 sat/vbyte.
func (s *Service) GetFeeRate(ctx context.Context, target uint32) (uint64, error) {
	body, err := s.get(ctx, "fee-estimates")
	if err != nil {
		return 0, err
	}

	estimates := make(map[string]float64)
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, fmt.Errorf("failed to parse fee estimates: %s", err)
	}

	best, feeRate := uint32(0), float64(1)
	for k, v := range estimates {
		blocks, err := strconv.Atoi(k)
		if err != nil {
			return 0, err
		}
		if uint32(blocks) <= target && uint32(blocks) > best {
			best, feeRate = uint32(blocks), v
		}
	}
	if feeRate < 1 {
		feeRate = 1
	}
	return uint64(feeRate + 0.5), nil
}

func (s *Service) get(ctx context.Context, elem ...string) ([]byte, error) {
	endpoint, err := url.JoinPath(s.url, elem...)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ports.ErrTxNotFound
	default:
		return nil, fmt.Errorf("%s endpoint HTTP error: %s", strings.Join(elem, "/"), resp.Status)
	}
}
