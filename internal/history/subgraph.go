package history

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

const (
	ordersQuery = `query newRequests($account: String, $contract: String) {
  newRequests(where: { requester: $account, target: $contract }) {
    id
    timeStamp
    requester
    target
    referer
    callData
    initEthSent
    ethForCall
    verifySender
    payWithAuto
  }
}`

	cancellationsQuery = `query cancelledRequests($account: String, $contract: String) {
  cancelledRequests(where: { requester: $account, target: $contract }) {
    id
    timeStamp
    requester
    target
    wasExecuted
  }
}`
)

// SubgraphSource reads registry history from a Graph endpoint.
type SubgraphSource struct {
	client *resty.Client
	url    string
}

func NewSubgraphSource(url string) *SubgraphSource {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &SubgraphSource{client: client, url: url}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphError struct {
	Message string `json:"message"`
}

type graphResponse[T any] struct {
	Data   T            `json:"data"`
	Errors []graphError `json:"errors"`
}

type newRequestRow struct {
	ID           string `json:"id"`
	TimeStamp    string `json:"timeStamp"`
	Requester    string `json:"requester"`
	Target       string `json:"target"`
	Referer      string `json:"referer"`
	CallData     string `json:"callData"`
	InitEthSent  string `json:"initEthSent"`
	EthForCall   string `json:"ethForCall"`
	VerifySender bool   `json:"verifySender"`
	PayWithAuto  bool   `json:"payWithAuto"`
}

type cancelledRow struct {
	ID          string `json:"id"`
	TimeStamp   string `json:"timeStamp"`
	WasExecuted bool   `json:"wasExecuted"`
}

func (s *SubgraphSource) FetchOrders(ctx context.Context, account, target common.Address) ([]RawOrderRecord, error) {
	var resp graphResponse[struct {
		NewRequests []newRequestRow `json:"newRequests"`
	}]
	if err := s.query(ctx, ordersQuery, account, target, &resp); err != nil {
		return nil, err
	}
	if err := joinErrors(resp.Errors); err != nil {
		return nil, err
	}

	records := make([]RawOrderRecord, 0, len(resp.Data.NewRequests))
	for _, row := range resp.Data.NewRequests {
		callData, err := hexutil.Decode(row.CallData)
		if err != nil {
			// kept so the order still shows up, as unclassified
			telemetry.Warnf("[subgraph] request %s: bad callData: %v", row.ID, err)
		}
		records = append(records, RawOrderRecord{
			ID:           row.ID,
			Timestamp:    parseTimestamp(row.TimeStamp),
			Requester:    common.HexToAddress(row.Requester),
			Target:       common.HexToAddress(row.Target),
			Referer:      common.HexToAddress(row.Referer),
			CallData:     callData,
			InitEthSent:  parseBigInt(row.InitEthSent),
			EthForCall:   parseBigInt(row.EthForCall),
			VerifySender: row.VerifySender,
			PayWithAUTO:  row.PayWithAuto,
		})
	}
	return records, nil
}

func (s *SubgraphSource) FetchCancellations(ctx context.Context, account, target common.Address) ([]Cancellation, error) {
	var resp graphResponse[struct {
		CancelledRequests []cancelledRow `json:"cancelledRequests"`
	}]
	if err := s.query(ctx, cancellationsQuery, account, target, &resp); err != nil {
		return nil, err
	}
	if err := joinErrors(resp.Errors); err != nil {
		return nil, err
	}

	out := make([]Cancellation, 0, len(resp.Data.CancelledRequests))
	for _, row := range resp.Data.CancelledRequests {
		out = append(out, Cancellation{
			ID:          row.ID,
			Timestamp:   parseTimestamp(row.TimeStamp),
			WasExecuted: row.WasExecuted,
		})
	}
	return out, nil
}

func (s *SubgraphSource) query(ctx context.Context, query string, account, target common.Address, out any) error {
	// The subgraph stores addresses lowercased.
	body := graphRequest{
		Query: query,
		Variables: map[string]any{
			"account":  strings.ToLower(account.Hex()),
			"contract": strings.ToLower(target.Hex()),
		},
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(s.url)
	if err != nil {
		return errors.Wrap(err, "subgraph request")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("subgraph http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func joinErrors(errs []graphError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return errors.Errorf("subgraph: %s", strings.Join(msgs, "; "))
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func parseBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
