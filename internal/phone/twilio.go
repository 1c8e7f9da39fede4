package phone

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallControl is the part of the Twilio REST API the phone interview uses.
type CallControl interface {
	StartRecording(callSID, callbackURL string) error
	HangUp(callSID string) error
}

type restCalls struct {
	client *twilio.RestClient
}

// NewCallControl returns a CallControl backed by the Twilio REST client.
func NewCallControl(accountSID, authToken string) CallControl {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &restCalls{client: client}
}

// StartRecording creates a single continuous recording on an in-progress call.
func (r *restCalls) StartRecording(callSID, callbackURL string) error {
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(callbackURL)
	params.SetRecordingStatusCallbackMethod("POST")
	params.SetRecordingStatusCallbackEvent([]string{"completed"})
	params.SetRecordingChannels("mono")

	if _, err := r.client.Api.CreateCallRecording(callSID, params); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	return nil
}

func (r *restCalls) HangUp(callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := r.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to hang up %s: %w", callSID, err)
	}
	return nil
}

// downloadRecording fetches the WAV rendition of a Twilio recording.
func (s *Service) downloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.deps.AccountSID, s.deps.AuthToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyPreview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download recording failed, status %d: %s", resp.StatusCode, string(bodyPreview))
	}
	return io.ReadAll(resp.Body)
}
