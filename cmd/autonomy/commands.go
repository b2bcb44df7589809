package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/execution"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/history"
	"github.com/meltingclock/autonomy-orders/internal/metrics"
	"github.com/meltingclock/autonomy-orders/internal/planner"
	"github.com/meltingclock/autonomy-orders/internal/telegram"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

type placeFlags struct {
	in, out   string
	amount    string
	bound     string
	kind      string
	fee       string
	recipient string
	slippage  int
	plain     bool
	dryRun    bool
}

func (a *app) newPlaceCommand() *cobra.Command {
	var f placeFlags
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a limit or stop-loss order",
		Example: "  autonomy place --in native --out 0x0E09...cE82 --amount 1 --bound 250 --kind limit\n" +
			"  autonomy place --in 0x0E09...cE82 --out native --amount 100 --bound 0.3 --kind stop --fee proceeds",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlace(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.in, "in", "native", "Input token address or \"native\"")
	cmd.Flags().StringVar(&f.out, "out", "native", "Output token address or \"native\"")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Input amount in token units")
	cmd.Flags().StringVar(&f.bound, "bound", "", "Limit: minimum output. Stop: output trigger")
	cmd.Flags().StringVar(&f.kind, "kind", "limit", "Order kind: limit|stop")
	cmd.Flags().StringVar(&f.fee, "fee", "prepaid", "Keeper fee: prepaid|proceeds")
	cmd.Flags().StringVar(&f.recipient, "recipient", "", "Output recipient (default: wallet)")
	cmd.Flags().IntVar(&f.slippage, "slippage", -1, "Slippage in bips for display (default from config)")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "Skip the keeper cost check")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Plan and print candidates without sending")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("bound")
	return cmd
}

func (a *app) runPlace(ctx context.Context, w io.Writer, f placeFlags) error {
	kind, err := autonomy.ParseOrderKind(f.kind)
	if err != nil {
		return err
	}
	fee, err := autonomy.ParseFeeMode(f.fee)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return errors.Wrap(err, "--amount")
	}
	bound, err := decimal.NewFromString(f.bound)
	if err != nil {
		return errors.Wrap(err, "--bound")
	}
	slippage := a.cfg.SLIPPAGE_BIPS
	if f.slippage >= 0 {
		slippage = f.slippage
	}
	if err := helpers.ValidateSlippageBips(slippage); err != nil {
		return err
	}

	if err := a.connect(ctx, true); err != nil {
		return err
	}
	input, err := a.resolveToken(ctx, f.in)
	if err != nil {
		return errors.Wrap(err, "--in")
	}
	output, err := a.resolveToken(ctx, f.out)
	if err != nil {
		return errors.Wrap(err, "--out")
	}
	var recipient common.Address
	if f.recipient != "" {
		if recipient, err = helpers.ValidateAddress(f.recipient); err != nil {
			return errors.Wrap(err, "--recipient")
		}
	}

	p, err := a.planner()
	if err != nil {
		return err
	}
	plan, err := p.Plan(planner.TradeIntent{
		Input:        input,
		Output:       output,
		InputAmount:  amount,
		OutputBound:  bound,
		SlippageBips: slippage,
		Requester:    a.channel.Address(),
		Recipient:    recipient,
		Deadline:     a.cfg.Deadline(time.Now()),
		Kind:         kind,
		FeeMode:      fee,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, plan.Summary())
	fmt.Fprintf(w, "min received: %s %s\n", helpers.FormatTokenAmount(plan.MinReceived, output.Decimals), output.Symbol)
	printCandidates(w, plan.Candidates)
	if f.dryRun {
		return nil
	}

	if !input.IsNative() {
		hash, err := a.channel.EnsureAllowance(ctx, input.Address, a.reg.MidRouter(), plan.InputAmount)
		if err != nil {
			return err
		}
		if hash != (common.Hash{}) {
			fmt.Fprintf(w, "approve tx: %s\n", hash.Hex())
		}
	}

	out, err := a.pipeline(a.txLog()).Execute(ctx, plan, execution.Options{PlainSwap: f.plain})
	if err != nil {
		return err
	}
	return reportOutcome(w, out)
}

func (a *app) resolveToken(ctx context.Context, s string) (planner.Token, error) {
	addr, err := a.parseToken(s)
	if err != nil {
		return planner.Token{}, err
	}
	if addr == (common.Address{}) {
		return planner.NativeToken(a.nativeSymbol()), nil
	}
	return a.quoter.Token(ctx, addr, a.nativeSymbol())
}

func printCandidates(w io.Writer, cands []planner.CallCandidate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tMETHOD\tSELECTOR\tVALUE\tROUTER")
	for _, c := range cands {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			c.Rank, c.Method.Label(), c.Method.Selector, helpers.FormatEth(c.Value), c.RouterVariant)
	}
	_ = tw.Flush()
}

func reportOutcome(w io.Writer, out execution.Outcome) error {
	if !out.Succeeded() {
		return out.Err()
	}
	fmt.Fprintf(w, "submitted %s (rank %d, gas %d)\n", out.TxHash.Hex(), out.Candidate.Rank, out.GasLimit)
	return nil
}

func (a *app) newHistoryCommand() *cobra.Command {
	var account string
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the account's orders and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.account(ctx, account)
			if err != nil {
				return err
			}
			r, err := a.refresher(acct)
			if err != nil {
				return err
			}
			snap, err := r.Refresh(ctx)
			if err != nil {
				return err
			}
			orders := snap.Orders
			if openOnly {
				orders = snap.Open()
			}
			printOrders(cmd.OutOrStdout(), orders)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to list (default: wallet)")
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only show open orders")
	return cmd
}

func printOrders(w io.Writer, orders []history.Order) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLACED\tMETHOD\tIN\tOUT\tSTATUS")
	for _, o := range orders {
		in, out := "-", "-"
		if o.Classified() {
			in = fmt.Sprintf("%s %s", orderAmount(o.InputAmount), helpers.FormatAddress(o.InputToken))
			out = fmt.Sprintf("%s %s", orderAmount(o.OutputAmount), helpers.FormatAddress(o.OutputToken))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.Time(), o.Method, in, out, o.Status)
	}
	_ = tw.Flush()
}

func orderAmount(v *big.Int) string {
	if v == nil {
		return "?"
	}
	return v.String()
}

func (a *app) newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx, true); err != nil {
				return err
			}
			r, err := a.refresher(a.channel.Address())
			if err != nil {
				return err
			}
			snap, err := r.Refresh(ctx)
			if err != nil {
				return err
			}
			o, ok := snap.Find(args[0])
			if !ok {
				return errors.Errorf("order %s not found for %s", args[0], a.channel.Address().Hex())
			}
			cand, err := history.CancelCandidate(o, a.reg.Registry())
			if err != nil {
				return err
			}
			gasPrice, err := a.channel.GasPrice(ctx)
			if err != nil {
				return err
			}
			out := a.pipeline(a.txLog()).Run(ctx, a.channel.Address(),
				[]planner.CallCandidate{cand}, gasPrice, "Cancel order "+o.ID)
			return reportOutcome(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) newWatchCommand() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the order history fresh and report changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), account)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to watch (default: wallet)")
	return cmd
}

func (a *app) runWatch(ctx context.Context, account string) error {
	acct, err := a.account(ctx, account)
	if err != nil {
		return err
	}
	interval, err := a.cfg.RefreshInterval()
	if err != nil {
		return err
	}

	var (
		notifier *telegram.Notifier
		mu       sync.Mutex // publishes can race between the ticker and /refresh
		prev     *history.Snapshot
	)
	r, err := a.refresher(acct, history.OnPublish(func(s *history.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if prev != nil && prev.Cycle >= s.Cycle {
			return
		}
		if notifier != nil {
			notifier.OrderChanges(prev, s)
		}
		prev = s
	}))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.METRICS_ADDR != "" {
		srv := &http.Server{Addr: a.cfg.METRICS_ADDR, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			telemetry.Infof("[metrics] listening on %s", a.cfg.METRICS_ADDR)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	if a.cfg.TELEGRAM_TOKEN != "" {
		bot, err := telegram.NewBot(a.cfg.TELEGRAM_TOKEN)
		if err != nil {
			return err
		}
		ctrl := telegram.NewController(bot, a.cfg.TELEGRAM_CHAT_ID, r, a.cfg.NETWORK, acct)
		notifier = ctrl.Notifier()
		g.Go(func() error {
			defer bot.StopReceivingUpdates()
			return ctrl.Start(ctx)
		})
	}

	g.Go(func() error {
		telemetry.Infof("[watch] %s every %s", helpers.FormatAddress(acct), interval)
		err := r.Run(ctx, interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "👋 Shutting down...")
	return err
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
