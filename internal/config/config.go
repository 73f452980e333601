package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/internal/infrastructure/blockchain/esplora"
	"github.com/ark-network/dlc/internal/infrastructure/clock"
	"github.com/ark-network/dlc/internal/infrastructure/db"
	"github.com/ark-network/dlc/internal/infrastructure/metrics"
	httporacle "github.com/ark-network/dlc/internal/infrastructure/oracle/http"
	scheduler "github.com/ark-network/dlc/internal/infrastructure/scheduler/gocron"
	singlekeywallet "github.com/ark-network/dlc/internal/infrastructure/wallet/singlekey"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedNetworks = map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	}
)

type Config struct {
	Datadir         string
	DbType          string
	DbDir           string
	LogLevel        int
	Network         string
	EsploraURL      string
	OracleURLs      []string
	CheckInterval   int64
	NbConfirmations uint32
	RefundDelay     uint32
	WalletPrivkey   string `json:"-"`
	MetricsAddr     string

	repo       ports.RepoManager
	blockchain *esplora.Service
	wallet     ports.WalletService
	oracles    []ports.Oracle
	scheduler  ports.SchedulerService
	metrics    *metrics.Collector
	svc        *application.Manager
	network    *chaincfg.Params
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir         = "DATADIR"
	DbType          = "DB_TYPE"
	LogLevel        = "LOG_LEVEL"
	Network         = "NETWORK"
	EsploraURL      = "ESPLORA_URL"
	OracleURLs      = "ORACLE_URLS"
	CheckInterval   = "CHECK_INTERVAL"
	NbConfirmations = "NB_CONFIRMATIONS"
	RefundDelay     = "REFUND_DELAY"
	WalletPrivkey   = "WALLET_PRIVKEY"
	MetricsAddr     = "METRICS_ADDR"

	defaultDatadir         = btcutil.AppDataDir("dlcd", false)
	defaultDbType          = "sqlite"
	defaultLogLevel        = 4
	defaultNetwork         = "regtest"
	defaultEsploraURL      = "http://localhost:3000"
	defaultCheckInterval   = 30
	defaultNbConfirmations = application.DefaultNbConfirmations
	defaultRefundDelay     = application.DefaultRefundDelay
	defaultMetricsAddr     = ":9100"
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("DLC")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(EsploraURL, defaultEsploraURL)
	viper.SetDefault(CheckInterval, defaultCheckInterval)
	viper.SetDefault(NbConfirmations, defaultNbConfirmations)
	viper.SetDefault(RefundDelay, defaultRefundDelay)
	viper.SetDefault(MetricsAddr, defaultMetricsAddr)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	return &Config{
		Datadir:         viper.GetString(Datadir),
		DbType:          viper.GetString(DbType),
		DbDir:           filepath.Join(viper.GetString(Datadir), "db"),
		LogLevel:        viper.GetInt(LogLevel),
		Network:         viper.GetString(Network),
		EsploraURL:      viper.GetString(EsploraURL),
		OracleURLs:      parseList(viper.GetString(OracleURLs)),
		CheckInterval:   viper.GetInt64(CheckInterval),
		NbConfirmations: viper.GetUint32(NbConfirmations),
		RefundDelay:     viper.GetUint32(RefundDelay),
		WalletPrivkey:   viper.GetString(WalletPrivkey),
		MetricsAddr:     viper.GetString(MetricsAddr),
	}, nil
}

// Validate checks the config and instantiates every service it describes.
func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	network, ok := supportedNetworks[c.Network]
	if !ok {
		return fmt.Errorf("unknown network %s", c.Network)
	}
	if c.CheckInterval < 1 {
		return fmt.Errorf("invalid check interval, must be at least 1 second")
	}
	if c.NbConfirmations < 1 {
		return fmt.Errorf("invalid number of confirmations, must be at least 1")
	}
	if c.RefundDelay < 1 {
		return fmt.Errorf("invalid refund delay, must be at least 1 second")
	}
	if c.network == nil {
		c.network = network
	}
	if network == &chaincfg.MainNetParams && len(c.WalletPrivkey) <= 0 {
		return fmt.Errorf("wallet private key is required on mainnet")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.blockchainService(); err != nil {
		return err
	}
	if err := c.walletService(); err != nil {
		return err
	}
	if err := c.oracleServices(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	c.metrics = metrics.NewCollector()
	return nil
}

func (c *Config) AppService() (*application.Manager, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) SchedulerService() ports.SchedulerService {
	return c.scheduler
}

func (c *Config) Metrics() *metrics.Collector {
	return c.metrics
}

func (c *Config) BlockchainService() *esplora.Service {
	return c.blockchain
}

func (c *Config) WalletService() ports.WalletService {
	return c.wallet
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) blockchainService() error {
	svc, err := esplora.NewService(c.EsploraURL)
	if err != nil {
		return err
	}
	c.blockchain = svc
	return nil
}

func (c *Config) walletService() error {
	if c.blockchain == nil {
		return fmt.Errorf("blockchain service not set")
	}
	seed := c.WalletPrivkey
	if len(seed) <= 0 {
		var err error
		seed, err = singlekeywallet.LoadOrCreateSeed(
			filepath.Join(c.Datadir, "wallet", "seed"),
		)
		if err != nil {
			return err
		}
	}
	svc, err := singlekeywallet.NewWallet(seed, c.network, c.blockchain)
	if err != nil {
		return err
	}
	c.wallet = svc
	return nil
}

func (c *Config) oracleServices() error {
	oracles := make([]ports.Oracle, 0, len(c.OracleURLs))
	for _, url := range c.OracleURLs {
		o, err := httporacle.NewOracle(context.Background(), url)
		if err != nil {
			return err
		}
		oracles = append(oracles, o)
	}
	if len(oracles) <= 0 {
		log.Warn("no oracle configured, offers can be received but not created")
	}
	c.oracles = oracles
	return nil
}

func (c *Config) schedulerService() error {
	c.scheduler = scheduler.NewScheduler()
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewManager(
		c.wallet, c.blockchain, c.repo, c.oracles, clock.NewSystemClock(),
		application.Config{
			Network:         c.network,
			NbConfirmations: c.NbConfirmations,
			RefundDelay:     c.RefundDelay,
		},
	)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		svc.RegisterEventsHandler(c.metrics.OnContract)
	}

	c.svc = svc
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func parseList(value string) []string {
	list := make([]string, 0)
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); len(v) > 0 {
			list = append(list, v)
		}
	}
	return list
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
