package main

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/meltingclock/autonomy-orders/internal/config"
	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/execution"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/history"
	"github.com/meltingclock/autonomy-orders/internal/planner"
	"github.com/meltingclock/autonomy-orders/internal/quote"
	"github.com/meltingclock/autonomy-orders/internal/telegram"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	debug      bool

	cfg *config.Config
	reg *autonomy.Registry

	client  *ethclient.Client
	channel *execution.EthChannel
	quoter  *quote.Quoter
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "autonomy",
		Short:         "Conditional limit and stop-loss orders through the Autonomy registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.client != nil {
				a.client.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Path to config file")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logs")

	cmd.AddCommand(
		a.newPlaceCommand(),
		a.newHistoryCommand(),
		a.newWatchCommand(),
		a.newCancelCommand(),
	)
	return cmd
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config validation")
	}
	if err := telemetry.Configure(cfg.Telemetry()); err != nil {
		return err
	}
	telemetry.EnableDebug(a.debug || cfg.DEBUG)

	a.cfg = cfg
	a.reg = autonomy.NewRegistry(cfg.Autonomy())
	return nil
}

// connect dials the RPC endpoint and, when a key is configured, builds the
// signing channel.
func (a *app) connect(ctx context.Context, needKey bool) error {
	if a.client != nil {
		return nil
	}
	client, err := ethclient.DialContext(ctx, a.cfg.RPC_URL)
	if err != nil {
		return errors.Wrap(err, "rpc dial")
	}
	a.client = client
	a.quoter = quote.New(client, a.reg)

	if a.cfg.PRIVATE_KEY == "" {
		if needKey {
			return errors.New("PRIVATE_KEY is required for this command")
		}
		return nil
	}
	key, _, err := helpers.ValidatePrivateKey(a.cfg.PRIVATE_KEY)
	if err != nil {
		return err
	}
	maxGas, err := a.cfg.MaxGasPrice()
	if err != nil {
		return err
	}
	a.channel, err = execution.NewEthChannel(ctx, client, key, execution.GasConfig{
		GasBoostPercent: a.cfg.AUTO_GAS_BOOST,
		MaxGasPrice:     maxGas,
	})
	if err != nil {
		return err
	}
	telemetry.Infof("[cli] wallet %s on chain %s", helpers.FormatAddress(a.channel.Address()), a.channel.ChainID())
	return nil
}

func (a *app) nativeSymbol() string {
	if p, ok := autonomy.PresetFor(autonomy.Network(a.cfg.NETWORK)); ok {
		return p.NativeSymbol
	}
	return "ETH"
}

// txLog fans submissions out to the log and, when configured, Telegram.
func (a *app) txLog() execution.TxLog {
	sinks := execution.MultiTxLog{execution.LogTxLog{}}
	if a.cfg.TELEGRAM_TOKEN != "" && a.cfg.TELEGRAM_CHAT_ID != 0 {
		bot, err := telegram.NewBot(a.cfg.TELEGRAM_TOKEN)
		if err != nil {
			telemetry.Warnf("[cli] telegram disabled: %v", err)
		} else {
			sinks = append(sinks, telegram.NewNotifier(bot, a.cfg.TELEGRAM_CHAT_ID))
		}
	}
	return sinks
}

func (a *app) pipeline(txLog execution.TxLog) *execution.Pipeline {
	return execution.NewPipeline(a.channel, a.quoter, txLog)
}

func (a *app) planner() (*planner.Planner, error) {
	surcharge, err := a.cfg.Surcharge()
	if err != nil {
		return nil, err
	}
	return planner.New(a.reg,
		planner.WithSurcharge(surcharge),
		planner.WithFeeOnTransfer(planner.NewTokenSet(a.cfg.FEE_ON_TRANSFER_TOKENS...)),
	), nil
}

// refresher watches account's requests against the mid-router.
func (a *app) refresher(account common.Address, opts ...history.RefresherOption) (*history.Refresher, error) {
	if a.cfg.SUBGRAPH_URL == "" {
		return nil, errors.New("SUBGRAPH_URL is required for order history")
	}
	src := history.NewSubgraphSource(a.cfg.SUBGRAPH_URL)
	return history.NewRefresher(src, account, a.reg.MidRouter(), a.reg.Router(), opts...), nil
}

// account resolves the --account flag, falling back to the wallet address.
func (a *app) account(ctx context.Context, flag string) (common.Address, error) {
	if flag != "" {
		return helpers.ValidateAddress(flag)
	}
	if err := a.connect(ctx, true); err != nil {
		return common.Address{}, errors.Wrap(err, "no --account given")
	}
	return a.channel.Address(), nil
}

// parseToken maps "native" (or the native symbol) to the zero address.
func (a *app) parseToken(s string) (common.Address, error) {
	if s == "" || strings.EqualFold(s, "native") || strings.EqualFold(s, a.nativeSymbol()) {
		return common.Address{}, nil
	}
	return helpers.ValidateAddress(s)
}
