package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/media-hub-backend/internal/auth"
	"github.com/lk2023060901/media-hub-backend/internal/pkg/checksum"
	syncbiz "github.com/lk2023060901/media-hub-backend/internal/sync/biz"
)

const defaultTimeout = 30 * time.Second

// Client 访问上游节点同步端点的 HTTP 客户端，实现同步域的 Source 接口。
// 每个请求临时签发一个节点 token，密钥与上游共享。
type Client struct {
	baseURL string
	nodeID  string
	tokens  *auth.TokenManager

	// metaClient 带整体超时，用于小体积的 JSON 端点
	metaClient *http.Client
	// streamClient 不能用整体超时，大文件下载时长不可预估，
	// 只约束响应头时间，流的生命周期由调用方的 context 控制
	streamClient *http.Client

	logger *zap.Logger
}

// NewClient 创建上游客户端
func NewClient(baseURL, nodeID string, tokens *auth.TokenManager, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("upstream: base url is required")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("upstream: node id is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	streamTransport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		nodeID:       nodeID,
		tokens:       tokens,
		metaClient:   &http.Client{Timeout: timeout, Transport: transport},
		streamClient: &http.Client{Transport: streamTransport},
		logger:       logger,
	}, nil
}

// envelope 上游业务响应的统一外层
type envelope struct {
	Code    int             `json:"code"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchManifest 拉取资产清单。
// 清单哈希取 data 原始字节的 SHA-256，用于判断清单是否变化。
func (c *Client) FetchManifest(ctx context.Context) (*syncbiz.Manifest, error) {
	data, err := c.getJSON(ctx, "/api/v1/sync/manifest")
	if err != nil {
		return nil, err
	}

	var m syncbiz.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", syncbiz.ErrTransient, err)
	}
	m.Hash = checksum.SumBytes(data)

	c.logger.Debug("已拉取上游清单",
		zap.String("version", m.Version),
		zap.Int("assets", len(m.Assets)),
	)
	return &m, nil
}

// FetchRefDBMeta 拉取参考数据库的版本元信息
func (c *Client) FetchRefDBMeta(ctx context.Context, name string) (*syncbiz.RefDBMeta, error) {
	data, err := c.getJSON(ctx, "/api/v1/sync/refdb/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	var meta syncbiz.RefDBMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode refdb meta: %v", syncbiz.ErrTransient, err)
	}
	if meta.Name == "" {
		meta.Name = name
	}
	return &meta, nil
}

// OpenAsset 打开一个资产的内容流
func (c *Client) OpenAsset(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/v1/assets/"+url.PathEscape(id)+"/file")
}

// OpenRefDB 打开一个参考数据库文件的内容流
func (c *Client) OpenRefDB(ctx context.Context, name string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/v1/sync/refdb/"+url.PathEscape(name)+"/file")
}

func (c *Client) getJSON(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	resp, err := c.metaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncbiz.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(path, resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", syncbiz.ErrTransient, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("%w: %s returned code %d: %s", syncbiz.ErrTransient, path, env.Code, env.Message)
	}
	return env.Data, nil
}

func (c *Client) openStream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncbiz.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(path, resp)
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.GeneratePeerToken(c.nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign peer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "media-hub-sync/"+c.nodeID)
	return req, nil
}

// statusError 非 2xx 一律按临时失败处理，保留响应体开头便于排查
func (c *Client) statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%w: %s returned HTTP %d: %s",
		syncbiz.ErrTransient, path, resp.StatusCode, strings.TrimSpace(string(body)))
}
