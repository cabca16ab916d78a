package sage

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/houston-cloud/houston/internal/fault"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func mocked(t *testing.T) Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewWithHTTPClient("http://sage.test", hc)
}

func TestDetectRequestPayload(t *testing.T) {
	c := mocked(t)

	var captured DetectionRequest
	httpmock.RegisterResponder(
		"POST", "http://sage.test/api/engine/detect",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
			return httpmock.NewJsonResponse(200, map[string]interface{}{"success": true})
		})

	resp, err := c.DetectRequest(context.Background(), &DetectionRequest{
		Endpoint:      "/api/engine/detect/seals_v2/",
		JobID:         "job-1",
		CallbackURL:   "http://houston.test/v1/asset_groups/sighting/s-1/sage_detected/job-1",
		ImageUUIDList: []string{"img-1", "img-2"},
		Input:         map[string]interface{}{"sensitivity": 0.4},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Equal(t, "job-1", captured.JobID)
	require.Len(t, captured.ImageUUIDList, 2)
	require.NotEmpty(t, captured.CallbackURL)
	require.NotEmpty(t, captured.Endpoint)
}

func TestDetectRequestServerFaultIsTransient(t *testing.T) {
	c := mocked(t)
	httpmock.RegisterResponder(
		"POST", "http://sage.test/api/engine/detect",
		httpmock.NewStringResponder(503, "unavailable"))

	_, err := c.DetectRequest(context.Background(), &DetectionRequest{JobID: "job-2"})
	require.True(t, fault.IsTransient(err))
}

func TestDetectRequestRejectionIsValidation(t *testing.T) {
	c := mocked(t)
	httpmock.RegisterResponder(
		"POST", "http://sage.test/api/engine/detect",
		httpmock.NewStringResponder(400, `{"success":false}`))

	_, err := c.DetectRequest(context.Background(), &DetectionRequest{JobID: "job-3"})
	_, ok := fault.IsValidation(err)
	require.True(t, ok)
}

func TestDetectRequestRefusalIsValidation(t *testing.T) {
	c := mocked(t)
	httpmock.RegisterResponder(
		"POST", "http://sage.test/api/engine/detect",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"success": false, "status": "unknown model",
		}))

	_, err := c.DetectRequest(context.Background(), &DetectionRequest{JobID: "job-4"})
	_, ok := fault.IsValidation(err)
	require.True(t, ok)
}
