// README: Safaricom Daraja client: OAuth token, STK push and STK query.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// eat is the gateway's clock; request timestamps must be East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// processingCode is returned by the query endpoint while the prompt is still open.
const processingCode = "500.001.1001"

type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Daraja talks to Safaricom's M-PESA Express API.
type Daraja struct {
	cfg  DarajaConfig
	http *http.Client
	now  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewDaraja(cfg DarajaConfig) *Daraja {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Daraja{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type darajaReply struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (d *Daraja) STKPush(ctx context.Context, req PushRequest) (PushResponse, error) {
	ts, pw := d.password()
	desc := req.Description
	if desc == "" {
		desc = "Order " + req.AccountRef
	}
	var r darajaReply
	status, err := d.post(ctx, "/mpesa/stkpush/v1/processrequest", stkPushBody{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          pw,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            d.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  req.AccountRef,
		TransactionDesc:   desc,
	}, &r)
	if err != nil {
		return PushResponse{}, err
	}
	if status != http.StatusOK || r.ResponseCode != "0" {
		msg := r.ErrorMessage
		if msg == "" {
			msg = r.ResponseDescription
		}
		return PushResponse{}, errors.Wrapf(ErrGateway, "stk push rejected (%d): %s", status, msg)
	}
	return PushResponse{
		MerchantRequestID: r.MerchantRequestID,
		CheckoutRequestID: r.CheckoutRequestID,
		CustomerMessage:   r.CustomerMessage,
	}, nil
}

func (d *Daraja) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	ts, pw := d.password()
	var r darajaReply
	status, err := d.post(ctx, "/mpesa/stkpushquery/v1/query", stkQueryBody{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          pw,
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}, &r)
	if err != nil {
		return QueryResult{}, err
	}
	if r.ErrorCode == processingCode {
		return QueryResult{ResultCode: 1, ResultDesc: r.ErrorMessage, Pending: true}, nil
	}
	if status != http.StatusOK || r.ResultCode == "" {
		return QueryResult{}, errors.Wrapf(ErrGateway, "stk query failed (%d): %s", status, r.ErrorMessage)
	}
	code, err := strconv.Atoi(r.ResultCode)
	if err != nil {
		return QueryResult{}, errors.Wrapf(ErrGateway, "stk query result code %q", r.ResultCode)
	}
	return QueryResult{ResultCode: code, ResultDesc: r.ResultDesc}, nil
}

// password returns the request timestamp and base64(shortcode+passkey+timestamp).
func (d *Daraja) password() (string, string) {
	ts := d.now().In(eat).Format("20060102150405")
	return ts, base64.StdEncoding.EncodeToString([]byte(d.cfg.ShortCode + d.cfg.Passkey + ts))
}

func (d *Daraja) post(ctx context.Context, path string, in, out any) (int, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return 0, errors.Wrap(err, "daraja: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "daraja: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(ErrGateway, "daraja: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "daraja: read response")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, errors.Wrapf(ErrGateway, "daraja: unexpected response %d: %s", resp.StatusCode, raw)
	}
	return resp.StatusCode, nil
}

type tokenReply struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, refreshing it a minute before expiry.
func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != "" && d.now().Before(d.expires) {
		return d.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", errors.Wrap(err, "daraja: build token request")
	}
	req.SetBasicAuth(d.cfg.ConsumerKey, d.cfg.ConsumerSecret)
	resp, err := d.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(ErrGateway, "daraja token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrGateway, "daraja token: status %d", resp.StatusCode)
	}
	var t tokenReply
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return "", errors.Wrap(err, "daraja: decode token")
	}
	ttl, err := strconv.Atoi(t.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	d.token = t.AccessToken
	d.expires = d.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return d.token, nil
}
