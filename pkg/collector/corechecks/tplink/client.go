// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tplink

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const clientTimeout = 5 * time.Second

// client speaks the router's luci JSON admin API. Calls are form-encoded
// POSTs carrying a json document in the `data` field; the session is a
// sysauth cookie plus a stok token embedded in the request path.
type client struct {
	baseURL  string
	username string
	password string

	http *http.Client
	stok string
}

func newClient(routerIP, username, password string) *client {
	jar, _ := cookiejar.New(nil)
	return &client{
		baseURL:  "http://" + routerIP,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: clientTimeout,
			Jar:     jar,
		},
	}
}

// apiResponse is the envelope of every admin API reply. error_code is the
// string "0" on success.
type apiResponse struct {
	ID        int             `json:"id"`
	Result    json.RawMessage `json:"result"`
	ErrorCode string          `json:"error_code"`
}

func (c *client) post(path, data, referer string) (*apiResponse, error) {
	payload := "data=" + url.QueryEscape(data)
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/"+path, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.baseURL+"/"+referer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying router: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading router response: %w", err)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding router response: %w", err)
	}
	if out.ErrorCode != "0" {
		return nil, fmt.Errorf("router returned error code %q", out.ErrorCode)
	}
	return &out, nil
}

// login fetches the RSA public key from the login form, encrypts the
// password and trades it for a fresh stok token. The sysauth cookie lands
// in the jar as a side effect.
func (c *client) login() error {
	resp, err := c.post("cgi-bin/luci/;stok=/login?form=login", `{"method":"get"}`, "webpages/login.html")
	if err != nil {
		return fmt.Errorf("fetching rsa key: %w", err)
	}
	var keyResult struct {
		Password []string `json:"password"` // [modulus hex, exponent hex]
	}
	if err := json.Unmarshal(resp.Result, &keyResult); err != nil {
		return fmt.Errorf("decoding rsa key: %w", err)
	}
	if len(keyResult.Password) != 2 {
		return fmt.Errorf("unexpected rsa key shape (%d fields)", len(keyResult.Password))
	}
	encrypted, err := encryptPassword(c.password, keyResult.Password[0], keyResult.Password[1])
	if err != nil {
		return err
	}

	loginData, err := json.Marshal(map[string]any{
		"method": "login",
		"params": map[string]string{"username": c.username, "password": encrypted},
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}
	resp, err = c.post("cgi-bin/luci/;stok=/login?form=login", string(loginData), "webpages/login.html")
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	var loginResult struct {
		Stok string `json:"stok"`
	}
	if err := json.Unmarshal(resp.Result, &loginResult); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if loginResult.Stok == "" {
		return fmt.Errorf("authentication returned no session token")
	}
	c.stok = loginResult.Stok
	return nil
}

// query calls an admin endpoint, logging in first when no session exists
// and retrying once with a fresh session when the stored one has expired.
func (c *client) query(adminPath string, out any) error {
	if c.stok == "" {
		if err := c.login(); err != nil {
			return err
		}
	}
	resp, err := c.post("cgi-bin/luci/;stok="+c.stok+"/admin/"+adminPath,
		`{"method":"get","params":{}}`, "webpages/index.html")
	if err != nil {
		c.stok = ""
		if err = c.login(); err != nil {
			return err
		}
		resp, err = c.post("cgi-bin/luci/;stok="+c.stok+"/admin/"+adminPath,
			`{"method":"get","params":{}}`, "webpages/index.html")
		if err != nil {
			return err
		}
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decoding %s: %w", adminPath, err)
	}
	return nil
}

type dhcpClient struct {
	Name    string `json:"name"`
	MACAddr string `json:"macaddr"`
	IPAddr  string `json:"ipaddr"`
}

func (c *client) dhcpClients() ([]dhcpClient, error) {
	var out []dhcpClient
	err := c.query("dhcps?form=client", &out)
	return out, err
}

type dhcpReservation struct {
	MAC  string `json:"mac"`
	Note string `json:"note"` // url-encoded free text
	IP   string `json:"ip"`
}

func (c *client) dhcpReservations() ([]dhcpReservation, error) {
	var out []dhcpReservation
	err := c.query("dhcps?form=reservation", &out)
	return out, err
}

type ipStat struct {
	Addr    string `json:"addr"`
	RxBytes int64  `json:"rx_bytes"`
	TxBytes int64  `json:"tx_bytes"`
}

func (c *client) trafficStats() ([]ipStat, error) {
	var out []ipStat
	err := c.query("ipstats?form=list", &out)
	return out, err
}
