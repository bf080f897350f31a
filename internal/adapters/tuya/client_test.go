package tuya

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signPattern = regexp.MustCompile(`^[0-9A-F]{64}$`)

func testAPILogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestServer fakes the OpenAPI: a token endpoint plus a handler for
// everything else.
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result": map[string]interface{}{
				"access_token": "token-abc",
				"expire_time":  7200,
			},
		})
	})
	mux.HandleFunc("/", handler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-id", "test-secret", 5*time.Second, testAPILogger())
	return server, client
}

func TestClientSignsEveryRequest(t *testing.T) {
	var gotHeaders http.Header
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"list": []interface{}{}},
		})
	})

	_, err := client.ListDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test-id", gotHeaders.Get("client_id"))
	assert.Equal(t, "HMAC-SHA256", gotHeaders.Get("sign_method"))
	assert.Equal(t, "token-abc", gotHeaders.Get("access_token"))
	assert.NotEmpty(t, gotHeaders.Get("t"))
	assert.Regexp(t, signPattern, gotHeaders.Get("sign"))
}

func TestClientReusesTokenUntilExpiry(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"access_token": "token-abc", "expire_time": 7200},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result":  []interface{}{},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-id", "test-secret", 5*time.Second, testAPILogger())

	for i := 0; i < 3; i++ {
		_, err := client.GetDeviceStatus(context.Background(), "plug-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestClientDecodesStatusPoints(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/devices/plug-1/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"result": []map[string]interface{}{
				{"code": "switch_1", "value": true},
				{"code": "cur_power", "value": 184},
			},
		})
	})

	points, err := client.GetDeviceStatus(context.Background(), "plug-1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "switch_1", points[0].Code)
	assert.Equal(t, true, points[0].Value)
}

func TestClientSendCommandsPostsDatapoints(t *testing.T) {
	var gotBody map[string][]Command
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1.0/devices/plug-1/commands", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})

	err := client.SendCommands(context.Background(), "plug-1", []Command{{Code: "switch_1", Value: true}})
	require.NoError(t, err)
	require.Len(t, gotBody["commands"], 1)
	assert.Equal(t, "switch_1", gotBody["commands"][0].Code)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"code":    1106,
			"msg":     "permission deny",
		})
	})

	_, err := client.ListDevices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1106")
	assert.Contains(t, err.Error(), "permission deny")
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.ListDevices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(http.StatusBadGateway))
}
