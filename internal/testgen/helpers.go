package testgen

// helpersBody is the shared half of the generated package: request helpers
// used by every model test. It never varies by schema, so it ships as
// source rather than going through the code builder.
const helpersBody = `import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// defaultBaseURL is used when CRUD6_BASE_URL is unset.
const defaultBaseURL = ""

// baseURL returns the server under test, skipping when none is configured.
func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("CRUD6_BASE_URL")
	if url == "" {
		url = defaultBaseURL
	}
	if url == "" {
		t.Skip("CRUD6_BASE_URL is not set")
	}
	return strings.TrimSuffix(url, "/")
}

// doJSON performs one request against the server and decodes the response,
// failing the test on any status other than want.
func doJSON(t *testing.T, method string, path string, body any, want int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, baseURL(t)+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("CRUD6_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, want, resp.StatusCode, "%s %s returned: %s", method, path, string(buf))
	if len(buf) == 0 {
		return nil
	}
	var res map[string]any
	require.NoError(t, json.Unmarshal(buf, &res))
	return res
}

func createRecord(t *testing.T, model string, payload map[string]any) map[string]any {
	t.Helper()
	res := doJSON(t, http.MethodPost, "/v1/"+model, payload, http.StatusCreated)
	row, _ := res["row"].(map[string]any)
	require.NotNil(t, row)
	return row
}

func getRecord(t *testing.T, model string, id any) map[string]any {
	t.Helper()
	return doJSON(t, http.MethodGet, fmt.Sprintf("/v1/%s/%v", model, id), nil, http.StatusOK)
}

func listRecords(t *testing.T, model string) []any {
	t.Helper()
	res := doJSON(t, http.MethodGet, "/v1/"+model, nil, http.StatusOK)
	rows, _ := res["rows"].([]any)
	return rows
}

func updateRecord(t *testing.T, model string, id any, payload map[string]any) map[string]any {
	t.Helper()
	res := doJSON(t, http.MethodPut, fmt.Sprintf("/v1/%s/%v", model, id), payload, http.StatusOK)
	row, _ := res["row"].(map[string]any)
	require.NotNil(t, row)
	return row
}

func deleteRecord(t *testing.T, model string, id any) {
	t.Helper()
	doJSON(t, http.MethodDelete, fmt.Sprintf("/v1/%s/%v", model, id), nil, http.StatusOK)
}

// assertGone verifies a deleted row no longer resolves.
func assertGone(t *testing.T, model string, id any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL(t)+fmt.Sprintf("/v1/%s/%v", model, id), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
`
