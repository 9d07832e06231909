package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/pkg/logger"
)

const (
	// DefaultBaseURL 是游戏服务的默认地址。
	DefaultBaseURL        = "https://rps.sendarcade.fun"
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 1 << 20
)

// MoveRequest 描述一次出拳请求。
type MoveRequest struct {
	Account string
	Choice  Choice
	Wager   decimal.Decimal
}

// FollowRequest 是沿 continuation 发起的请求体。
type FollowRequest struct {
	Account   string `json:"account"`
	Signature string `json:"signature,omitempty"`
}

// Remote 抽象远端游戏服务。Resolve 返回 continuation 实际请求的绝对地址，
// 同一资源的不同写法解析结果相同。
type Remote interface {
	RequestMove(ctx context.Context, endpoint string, req MoveRequest) (*ActionResponse, error)
	Follow(ctx context.Context, next Continuation, req FollowRequest) (*ActionResponse, error)
	Resolve(next Continuation) (string, error)
}

// HTTPClient 通过 HTTP 调用游戏服务。
type HTTPClient struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// ClientOption 定义可选配置。
type ClientOption func(*HTTPClient)

// WithRequestTimeout 设置单次请求超时。
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(h *HTTPClient) {
		if timeout > 0 {
			h.client.Timeout = timeout
		}
	}
}

// NewHTTPClient 创建游戏服务客户端。
func NewHTTPClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("解析游戏服务地址失败: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("游戏服务地址必须是 http(s) 绝对地址: %s", baseURL)
	}
	if base.RawQuery != "" || base.Fragment != "" {
		return nil, fmt.Errorf("游戏服务地址不能包含查询参数: %s", baseURL)
	}
	base.Path = cleanBasePath(base.Path)
	base.RawPath = ""
	h := &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: defaultRequestTimeout},
		logger: logger.Named("game.remote"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// RequestMove 提交出拳与下注，返回待签名的交易信封。
func (h *HTTPClient) RequestMove(ctx context.Context, endpoint string, req MoveRequest) (*ActionResponse, error) {
	target := &url.URL{
		Scheme: h.base.Scheme,
		Host:   h.base.Host,
		Path:   h.base.Path + "/api/actions/" + endpoint,
	}
	query := url.Values{}
	query.Set("amount", req.Wager.String())
	query.Set("choice", string(req.Choice))
	target.RawQuery = query.Encode()
	return h.post(ctx, target, FollowRequest{Account: req.Account})
}

// Follow 沿服务端下发的 continuation 发起请求。
func (h *HTTPClient) Follow(ctx context.Context, next Continuation, req FollowRequest) (*ActionResponse, error) {
	target, err := h.resolve(next)
	if err != nil {
		return nil, err
	}
	return h.post(ctx, target, req)
}

// Resolve 返回 continuation 对应的绝对地址。
func (h *HTTPClient) Resolve(next Continuation) (string, error) {
	target, err := h.resolve(next)
	if err != nil {
		return "", err
	}
	return target.String(), nil
}

func (h *HTTPClient) resolve(next Continuation) (*url.URL, error) {
	return resolveContinuation(h.base, next)
}

// resolveContinuation 按 <base><href> 拼接相对链接，绝对链接必须与 base 同协议同主机，
// 并且路径落在 base 的路径前缀之下。路径中的 . 与 .. 会被折叠。
func resolveContinuation(base *url.URL, next Continuation) (*url.URL, error) {
	if next.IsZero() {
		return nil, xerrors.New(xerrors.CodeProtocolViolation, "missing continuation")
	}
	ref, err := url.Parse(next.href)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProtocolViolation, err, "invalid continuation", xerrors.WithMetadata("href", next.href))
	}
	outside := xerrors.New(xerrors.CodeProtocolViolation, "continuation points outside the game service",
		xerrors.WithMetadata("href", next.href))

	var joined string
	if ref.Scheme != "" || ref.Host != "" {
		if !strings.EqualFold(ref.Scheme, base.Scheme) || !strings.EqualFold(ref.Host, base.Host) {
			return nil, outside
		}
		joined = ref.Path
	} else {
		joined = base.Path + "/" + strings.TrimPrefix(ref.Path, "/")
	}

	cleaned := path.Clean("/" + joined)
	if strings.HasSuffix(joined, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if base.Path != "" && cleaned != base.Path && !strings.HasPrefix(cleaned, base.Path+"/") {
		return nil, outside
	}
	return &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     cleaned,
		RawQuery: ref.RawQuery,
	}, nil
}

func cleanBasePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	return strings.TrimRight(path.Clean("/"+p), "/")
}

func (h *HTTPClient) post(ctx context.Context, target *url.URL, body FollowRequest) (*ActionResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "game service call cancelled", xerrors.WithMetadata("path", target.Path))
		}
		return nil, xerrors.Wrap(xerrors.CodeProtocolViolation, err, "game service unreachable", xerrors.WithMetadata("path", target.Path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProtocolViolation, err, "read game service response")
	}
	h.logger.Debug("游戏服务响应",
		slog.String("path", target.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	var out ActionResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		opts := []xerrors.Option{
			xerrors.WithMetadata("path", target.Path),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
		}
		if decodeErr == nil && out.Message != "" {
			opts = append(opts, xerrors.WithMetadata("remote_message", out.Message))
		}
		return nil, xerrors.New(xerrors.CodeProtocolViolation, "game service returned an error status", opts...)
	}
	if decodeErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeProtocolViolation, decodeErr, "decode game service response",
			xerrors.WithMetadata("path", target.Path))
	}
	return &out, nil
}
