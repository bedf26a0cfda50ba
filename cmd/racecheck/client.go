package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ridedispatch/internal/infra"
)

const (
	pickupLat = 25.0330
	pickupLng = 121.5654
)

type candidate struct {
	UID            string  `json:"uid"`
	DistanceMeters float64 `json:"distanceMeters"`
}

type dispatchResp struct {
	OK         bool        `json:"ok"`
	Candidates []candidate `json:"candidates"`
	Debug      struct {
		TotalFetched int `json:"totalFetched"`
	} `json:"debug"`
}

type orderResp struct {
	Order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Driver *struct {
			UID string `json:"uid"`
		} `json:"driver"`
	} `json:"order"`
}

func (r *Runner) driverID(name string) string {
	return "rc-" + r.run + "-" + name
}

func (r *Runner) token(subject, role, vehicle string) (string, error) {
	if r.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret not set")
	}
	return infra.SignServiceToken(r.cfg.JWTSecret, r.cfg.JWTIssuer, subject, infra.ServiceClaims{
		Role:        role,
		Name:        subject,
		VehicleType: vehicle,
	}, 10*time.Minute)
}

func (r *Runner) driverTokens(prefix string, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		tok, err := r.token(r.driverID(fmt.Sprintf("%s-%d", prefix, i)), infra.RoleDriver, "car2")
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

func (r *Runner) goOnline(ctx context.Context, uid, vehicle string, lat, lng float64) error {
	tok, err := r.token(uid, infra.RoleDriver, vehicle)
	if err != nil {
		return err
	}
	return r.expect(ctx, http.MethodPut, "/api/drivers/me/presence", tok, map[string]any{
		"online": true,
		"coords": map[string]float64{"lat": lat, "lng": lng},
	}, http.StatusOK, nil)
}

func (r *Runner) createOrder(ctx context.Context, tok, vehicle string) (string, error) {
	var resp orderResp
	err := r.expect(ctx, http.MethodPost, "/api/orders", tok, map[string]any{
		"service":     "ride",
		"vehicleType": vehicle,
		"pickup": map[string]any{
			"address": "racecheck",
			"coords":  map[string]float64{"lat": pickupLat, "lng": pickupLng},
		},
	}, http.StatusCreated, &resp)
	if err != nil {
		return "", err
	}
	return resp.Order.ID, nil
}

// expect performs the call and decodes the body into out when the status matches.
func (r *Runner) expect(ctx context.Context, method, path, tok string, body any, want int, out any) error {
	status, raw, err := r.call(ctx, method, path, tok, body)
	if err != nil {
		return err
	}
	if status != want {
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, status, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func (r *Runner) call(ctx context.Context, method, path, tok string, body any) (int, []byte, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}
