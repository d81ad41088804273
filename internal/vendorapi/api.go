package vendorapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Notification channel kinds. Only one may be active per API key.
const (
	ChannelCallback  = "callback"
	ChannelPull      = "pull"
	ChannelWebsocket = "websocket"
)

// DeleteChannel removes a notification channel. A missing channel is not
// an error.
func (c *Client) DeleteChannel(ctx context.Context, kind string) error {
	_, err := c.Request(ctx, http.MethodDelete, "/v2/notification/"+kind, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting %s channel: %w", kind, err)
	}
	return nil
}

// RegisterWebsocketChannel creates the websocket notification channel that
// OpenStream then connects to.
func (c *Client) RegisterWebsocketChannel(ctx context.Context) error {
	if _, err := c.Request(ctx, http.MethodPut, "/v2/notification/websocket", nil); err != nil {
		return fmt.Errorf("registering websocket channel: %w", err)
	}
	return nil
}

// ListDevices fetches one page of the device list.
//
// Parameters:
//   - limit: Page size
//   - after: Device id to continue after, or "" for the first page
func (c *Client) ListDevices(ctx context.Context, limit int, after string) (DevicePage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", "ASC")
	if after != "" {
		q.Set("after", after)
	}

	body, err := c.Request(ctx, http.MethodGet, "/v3/devices?"+q.Encode(), nil)
	if err != nil {
		return DevicePage{}, fmt.Errorf("listing devices: %w", err)
	}
	return DecodeDevicePage(body)
}

// DecodeDevicePage decodes a device list page body.
func DecodeDevicePage(body Body) (DevicePage, error) {
	var page DevicePage
	if err := body.Decode(&page); err != nil {
		return DevicePage{}, fmt.Errorf("decoding device list: %w", err)
	}
	return page, nil
}

// ListResources returns the resources a device exposes.
func (c *Client) ListResources(ctx context.Context, deviceID string) ([]Resource, error) {
	body, err := c.Request(ctx, http.MethodGet, "/v2/endpoints/"+url.PathEscape(deviceID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing resources of %s: %w", deviceID, err)
	}
	var resources []Resource
	// The endpoint returns a bare array, which Classify reports as text.
	if err := json.Unmarshal(body.Raw, &resources); err != nil {
		return nil, fmt.Errorf("%w: resources of %s: %w", ErrDecode, deviceID, err)
	}
	return resources, nil
}

// Subscribe creates a resource subscription. The returned body may carry
// an async-response-id for the initial value.
func (c *Client) Subscribe(ctx context.Context, deviceID, uri string) (Body, error) {
	return c.Request(ctx, http.MethodPut, subscriptionPath(deviceID, uri), nil)
}

// Unsubscribe removes one resource subscription.
func (c *Client) Unsubscribe(ctx context.Context, deviceID, uri string) error {
	_, err := c.Request(ctx, http.MethodDelete, subscriptionPath(deviceID, uri), nil)
	return err
}

// UnsubscribeDevice removes every subscription of a device.
func (c *Client) UnsubscribeDevice(ctx context.Context, deviceID string) error {
	_, err := c.Request(ctx, http.MethodDelete, "/v2/subscriptions/"+url.PathEscape(deviceID), nil)
	return err
}

// SendDeviceRequest queues a request to a device. The result arrives later
// on the notification stream as an async-response with the same id.
func (c *Client) SendDeviceRequest(ctx context.Context, deviceID, asyncID string, dr DeviceRequest) (Body, error) {
	payload, err := json.Marshal(dr)
	if err != nil {
		return Body{}, fmt.Errorf("vendorapi: encoding device request: %w", err)
	}
	path := fmt.Sprintf("/v2/device-requests/%s?async-id=%s", url.PathEscape(deviceID), url.QueryEscape(asyncID))
	return c.Request(ctx, http.MethodPost, path, payload)
}

func subscriptionPath(deviceID, uri string) string {
	if uri == "" || uri[0] != '/' {
		uri = "/" + uri
	}
	return "/v2/subscriptions/" + url.PathEscape(deviceID) + uri
}

// NewDeviceRequest builds a device request. A non-empty value is sent as
// payload-b64.
func NewDeviceRequest(method, uri, value string) DeviceRequest {
	dr := DeviceRequest{Method: method, URI: uri}
	if value != "" {
		dr.PayloadB64 = base64.StdEncoding.EncodeToString([]byte(value))
	}
	return dr
}
