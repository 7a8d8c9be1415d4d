package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Greed71/webRTC/internal/protocol"
)

const (
	apiTimeout      = 10 * time.Second
	maxResponseBody = 1 << 20
)

// RoomError is a create or destroy request the broker refused.
type RoomError struct {
	Result protocol.RoomResult
}

func (e *RoomError) Error() string {
	if e.Result.Message != "" {
		return e.Result.Message
	}
	return fmt.Sprintf("%s: %s", e.Result.Type, e.Result.Reason)
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// API calls the room management endpoints.
type API struct {
	base *url.URL
	http *http.Client
}

// NewAPI returns a client for the server at base. A nil hc uses a client
// with a short timeout.
func NewAPI(base *url.URL, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: apiTimeout}
	}
	return &API{base: base, http: hc}
}

func (a *API) CreateRoom(ctx context.Context, room string, user protocol.ID) (protocol.RoomResult, error) {
	return a.roomRequest(ctx, "/create-room", protocol.CreateRoomRequest{RoomName: room, UserID: user})
}

func (a *API) DestroyRoom(ctx context.Context, room string) (protocol.RoomResult, error) {
	return a.roomRequest(ctx, "/destroy-room", protocol.DestroyRoomRequest{RoomName: room})
}

func (a *API) Rooms(ctx context.Context) ([]protocol.RoomInfo, error) {
	var out protocol.RoomsResponse
	if err := a.do(ctx, http.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (a *API) roomRequest(ctx context.Context, path string, body any) (protocol.RoomResult, error) {
	var out protocol.RoomResponse
	err := a.do(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return protocol.RoomResult{}, err
	}
	switch out.Data.Type {
	case protocol.ResultCreateFailure, protocol.ResultDestroyFailure:
		return out.Data, &RoomError{Result: out.Data}
	}
	return out.Data, nil
}

// do sends the request and decodes the reply into out. A 400 carrying a
// room result is decoded too so the caller sees the broker's reason.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	u := *a.base
	u.Path += path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode/100 == 2 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
		return nil
	}

	if resp.StatusCode == http.StatusBadRequest {
		var rr protocol.RoomResponse
		if json.Unmarshal(data, &rr) == nil && rr.Data.Type != "" {
			if res, ok := out.(*protocol.RoomResponse); ok {
				*res = rr
				return nil
			}
		}
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var er protocol.ErrorResponse
	if json.Unmarshal(data, &er) == nil {
		apiErr.Code = er.Code
		apiErr.Message = er.Message
	}
	return apiErr
}
