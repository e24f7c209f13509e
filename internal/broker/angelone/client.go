// Package angelone implements the broker adapter contract against the Angel
// One SmartAPI: REST for auth and orders, the smart-stream websocket for
// ticks. TOTP login, session rotation and token hot-swap are handled here.
package angelone

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

const (
	rootURL   = "https://apiconnect.angelone.in"
	streamURL = "wss://smartapisocket.angelone.in/smart-stream"
)

var routes = map[string]string{
	"login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"logout":       "/rest/secure/angelbroking/user/v1/logout",
	"order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"order.modify": "/rest/secure/angelbroking/order/v1/modifyOrder",
	"order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
	"order.book":   "/rest/secure/angelbroking/order/v1/getOrderBook",
	"position":     "/rest/secure/angelbroking/order/v1/getPosition",
	"holding":      "/rest/secure/angelbroking/portfolio/v1/getHolding",
	"rms":          "/rest/secure/angelbroking/user/v1/getRMS",
	"ltp":          "/rest/secure/angelbroking/order/v1/getLtpData",
	"candles":      "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// apiEnvelope is the common SmartAPI response wrapper.
type apiEnvelope struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      any    `json:"data"`
}

// client is the authenticated REST client. Token fields are swapped under
// the adapter's lock on reload.
type client struct {
	http       *resty.Client
	apiKey     string
	clientCode string
}

func newClient(apiKey, clientCode string, timeout time.Duration) *client {
	r := resty.New().
		SetBaseURL(rootURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-PrivateKey", apiKey)
	return &client{http: r, apiKey: apiKey, clientCode: clientCode}
}

func (c *client) setToken(accessToken string) {
	c.http.SetAuthToken(accessToken)
}

// login performs the TOTP password login and returns the token triple.
func (c *client) login(ctx context.Context, creds model.BrokerCredentials) (access, refresh, feed string, err error) {
	code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
	if err != nil {
		return "", "", "", model.WrapError(model.KindValidation, "TOTP_INVALID", "generate totp", err)
	}

	var out struct {
		apiEnvelope
		Data struct {
			JWTToken     string `json:"jwtToken"`
			RefreshToken string `json:"refreshToken"`
			FeedToken    string `json:"feedToken"`
		} `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientcode": creds.ClientCode,
			"password":   creds.Password,
			"totp":       code,
		}).
		SetResult(&out).
		Post(routes["login"])
	if err != nil {
		return "", "", "", model.WrapError(model.KindBrokerTransient, "LOGIN_FAILED", "login request", err)
	}
	if resp.StatusCode() != http.StatusOK || !out.Status {
		return "", "", "", classify(resp.StatusCode(), out.ErrorCode, out.Message)
	}
	return out.Data.JWTToken, out.Data.RefreshToken, out.Data.FeedToken, nil
}

// post issues an authenticated POST and maps failures to typed errors.
func (c *client) post(ctx context.Context, route string, body any, result any) error {
	var env apiEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&env).
		Post(routes[route])
	return c.check(resp, err, result, &env)
}

// get issues an authenticated GET.
func (c *client) get(ctx context.Context, route string, result any) error {
	var env apiEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&env).
		Get(routes[route])
	return c.check(resp, err, result, &env)
}

func (c *client) check(resp *resty.Response, err error, result any, env *apiEnvelope) error {
	if err != nil {
		return model.WrapError(model.KindBrokerTransient, "HTTP_ERROR", "request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return classify(resp.StatusCode(), env.ErrorCode, env.Message)
	}
	// SmartAPI reports application failures with HTTP 200 and status=false.
	if e, ok := result.(interface{ failed() (string, string, bool) }); ok {
		if code, msg, bad := e.failed(); bad {
			return classify(http.StatusOK, code, msg)
		}
	}
	return nil
}

func (e *apiEnvelope) failed() (string, string, bool) {
	return e.ErrorCode, e.Message, !e.Status
}

// classify maps SmartAPI failures onto core error kinds: 5xx, timeouts and
// rate limits retry; auth errors trigger the session-expired path; the rest
// are terminal rejections.
func classify(status int, code, message string) error {
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return model.NewError(model.KindBrokerTransient, nonEmpty(code, fmt.Sprintf("HTTP_%d", status)), message)
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		code == "AG8001", code == "AG8002", code == "AG8003": // invalid/expired token codes
		return model.NewError(model.KindSessionExpired, nonEmpty(code, "SESSION_EXPIRED"), message)
	default:
		return model.NewError(model.KindBrokerRejection, nonEmpty(code, "BROKER_REJECTED"), message)
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}
