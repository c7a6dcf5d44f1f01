// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tplink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

// The fake router hands out an exponent of 1 so the handler can check the
// ciphertext against the known padded layout of "secret".
const (
	fakeModulus  = "f0000000000000000000000000000001"
	fakeExponent = "1"
	fakeCipher   = "73656372657400000000000000000000"
	fakeStok     = "a1b2c3"
)

type fakeRouter struct {
	srv    *httptest.Server
	logins atomic.Int64
}

func newFakeRouter(t *testing.T) *fakeRouter {
	t.Helper()
	f := &fakeRouter{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRouter) ip() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func writeResult(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"id": 1, "result": result, "error_code": "0"})
}

func writeError(w http.ResponseWriter, code string) {
	json.NewEncoder(w).Encode(map[string]any{"id": 1, "error_code": code})
}

func (f *fakeRouter) handle(w http.ResponseWriter, r *http.Request) {
	data := r.FormValue("data")
	switch {
	case r.URL.Path == "/cgi-bin/luci/;stok=/login":
		if strings.Contains(data, `"method":"get"`) {
			writeResult(w, map[string]any{"password": []string{fakeModulus, fakeExponent}})
			return
		}
		var req struct {
			Params struct {
				Username string `json:"username"`
				Password string `json:"password"`
			} `json:"params"`
		}
		if json.Unmarshal([]byte(data), &req) != nil ||
			req.Params.Username != "admin" || req.Params.Password != fakeCipher {
			writeError(w, "-40401")
			return
		}
		f.logins.Add(1)
		writeResult(w, map[string]string{"stok": fakeStok})
	case r.URL.Path == "/cgi-bin/luci/;stok="+fakeStok+"/admin/dhcps":
		switch r.URL.Query().Get("form") {
		case "client":
			writeResult(w, []map[string]string{
				{"name": "printer", "macaddr": "aa:bb:cc:dd:ee:01", "ipaddr": "10.0.0.5"},
				{"name": "--", "macaddr": "aa:bb:cc:dd:ee:02", "ipaddr": "10.0.0.6"},
			})
		case "reservation":
			writeResult(w, []map[string]string{
				{"mac": "AA-BB-CC-DD-EE-01", "note": "living%20room", "ip": "10.0.0.5"},
			})
		default:
			writeError(w, "-1")
		}
	case r.URL.Path == "/cgi-bin/luci/;stok="+fakeStok+"/admin/ipstats":
		writeResult(w, []map[string]any{
			{"addr": "10.0.0.5", "rx_bytes": 1000, "tx_bytes": 2000},
			{"addr": "10.0.0.99", "rx_bytes": 5, "tx_bytes": 5},
		})
	default:
		// Any stale stok lands here.
		writeError(w, "-40401")
	}
}

func testCheck(t *testing.T, router *fakeRouter) (*Check, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{TPLink: &config.TPLinkConfig{
		RouterIP: router.ip(),
		Username: "admin",
		Password: "secret",
	}}
	cfg.SetDefaults()
	return New(cfg.TPLink, s), s
}

func TestRunIngestsRouterTables(t *testing.T) {
	router := newFakeRouter(t)
	c, s := testCheck(t, router)
	require.NoError(t, s.UpsertPet(store.PetInfo{
		Name:            "printy",
		IdentifierType:  store.IdentifierMAC,
		IdentifierValue: "AA-BB-CC-DD-EE-01",
		DeviceType:      store.DeviceOther,
		Mood:            store.MoodJolly,
	}))

	require.NoError(t, c.Run())
	assert.Equal(t, int64(1), router.logins.Load())

	infos, err := s.ListNetworkInfo()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	byMAC := map[string]netinfo.Info{}
	for _, info := range infos {
		byMAC[info.MAC] = info
	}
	assert.Equal(t, "10.0.0.5", byMAC["AA-BB-CC-DD-EE-01"].IP)
	assert.Equal(t, "10.0.0.6", byMAC["AA-BB-CC-DD-EE-02"].IP)

	resolved, err := s.ResolvePets([]store.PetInfo{{
		Name: "printy", IdentifierType: store.IdentifierMAC, IdentifierValue: "AA-BB-CC-DD-EE-01",
	}})
	require.NoError(t, err)
	require.NotZero(t, resolved["printy"].RowID)
	extra, err := s.ExtraInfoForRow(resolved["printy"].RowID)
	require.NoError(t, err)
	assert.Equal(t, "printer", extra[netinfo.ExtraDHCPName])
	assert.Equal(t, "living room", extra[netinfo.ExtraRouterDescription])

	traffic, err := s.LoadTraffic([]string{"printy"}, 0)
	require.NoError(t, err)
	require.Len(t, traffic["printy"], 1)
	assert.Equal(t, int64(1000), traffic["printy"][0].RxBytes)
	assert.Equal(t, int64(2000), traffic["printy"][0].TxBytes)
}

func TestRunRecoversFromExpiredSession(t *testing.T) {
	router := newFakeRouter(t)
	c, _ := testCheck(t, router)
	c.client.stok = "stale"

	require.NoError(t, c.Run())
	assert.Equal(t, int64(1), router.logins.Load())
	assert.Equal(t, fakeStok, c.client.stok)
}

func TestRunToleratesRouterOutage(t *testing.T) {
	router := newFakeRouter(t)
	c, s := testCheck(t, router)
	router.srv.Close()

	// An unreachable router costs the tick, not the daemon.
	require.NoError(t, c.Run())
	infos, err := s.ListNetworkInfo()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
