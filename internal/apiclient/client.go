// Package apiclient 遥测 HTTP API 的 Go 客户端（watch CLI 等消费端使用）
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"hiveguard-telemetry/internal/models"

	"github.com/go-resty/resty/v2"
)

// ErrTimeout 服务端报告传感器不可达
var ErrTimeout = errors.New("sensors unreachable")

// envelope 服务端统一响应信封
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Health 健康探针响应
type Health struct {
	Status        string `json:"status"`
	MQTTConnected bool   `json:"mqtt_connected"`
	OpenSessions  int    `json:"open_sessions"`
}

// ActivationList 激活历史响应
type ActivationList struct {
	Activations    []models.ActivationRecord `json:"activations"`
	CurrentSession *struct {
		StartedAt time.Time `json:"started_at"`
		OwnerName string    `json:"owner_name"`
	} `json:"current_session"`
}

// Client 遥测 API 客户端
type Client struct {
	http *resty.Client
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
}

// ListActivations 查询最近的激活历史
func (c *Client) ListActivations(ctx context.Context, tenantID, deviceID string) (*ActivationList, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tenant_id": tenantID,
			"device_id": deviceID,
		}).
		Get("/telemetry/api/v1/activations")
	if err != nil {
		return nil, err
	}

	var list ActivationList
	if err := decodeEnvelope(resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ClearActivations 清空激活历史
func (c *Client) ClearActivations(ctx context.Context, tenantID, deviceID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tenant_id": tenantID,
			"device_id": deviceID,
		}).
		Delete("/telemetry/api/v1/activations")
	if err != nil {
		return err
	}

	return decodeEnvelope(resp, nil)
}

// CurrentReadings 获取一次性实时读数
func (c *Client) CurrentReadings(ctx context.Context, secret, deviceID string, timeout time.Duration) (*models.LiveReadings, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"secret":    secret,
			"device_id": deviceID,
		})
	if timeout > 0 {
		req.SetQueryParam("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	}

	resp, err := req.Get("/telemetry/api/v1/readings/current")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusGatewayTimeout {
		return nil, ErrTimeout
	}

	var readings models.LiveReadings
	if err := decodeEnvelope(resp, &readings); err != nil {
		return nil, err
	}
	return &readings, nil
}

// Healthz 查询服务健康状态
func (c *Client) Healthz(ctx context.Context) (*Health, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/healthz")
	if err != nil {
		return nil, err
	}

	var health Health
	if err := decodeEnvelope(resp, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func decodeEnvelope(resp *resty.Response, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("undecodable response (status %d): %w", resp.StatusCode(), err)
	}
	if resp.IsError() || env.Code != 0 {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode(), env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("undecodable response data: %w", err)
	}
	return nil
}
