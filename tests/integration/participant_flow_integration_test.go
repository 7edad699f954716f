//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("CONVERSBOT_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// TestParticipantJourneyIntegration walks a live server from session
// creation into the conversation phase. Requires a running server with a
// valid API key and corpus. The conversation window keeps its configured
// minimum, so the test checks that an early end is rejected instead of
// waiting it out.
func TestParticipantJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 60 * time.Second}
	base := baseURL()

	var created struct {
		ParticipantID string `json:"participant_id"`
		Condition     string `json:"condition"`
		Phase         string `json:"phase"`
	}
	doPost(t, client, base+"/api/sessions", "", nil, &created)
	if created.ParticipantID == "" || created.Condition == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if created.Phase != "consent" {
		t.Fatalf("new session phase = %q", created.Phase)
	}
	sessionURL := base + "/api/sessions/" + created.ParticipantID

	var adv struct {
		Phase        string `json:"phase"`
		PersistError string `json:"persist_error"`
	}
	doPost(t, client, sessionURL+"/advance", "", map[string]any{}, &adv)
	if adv.Phase != "demographics" {
		t.Fatalf("phase after consent = %q", adv.Phase)
	}
	if adv.PersistError != "" {
		t.Fatalf("consent advance reported persist error: %s", adv.PersistError)
	}

	doPost(t, client, sessionURL+"/advance", "", map[string]any{
		"demographics": map[string]string{
			"age": "30", "gender": "kobieta", "education": "wyższe", "employment": "pracuję",
			"attitude_problem": "4", "attitude_welfare": "5", "attitude_would_sign": "3",
		},
	}, &adv)
	if adv.Phase != "personality" {
		t.Fatalf("phase after demographics = %q", adv.Phase)
	}

	doPost(t, client, sessionURL+"/advance", "", map[string]any{
		"personality": []int{4, 4, 4, 4, 4, 4, 4, 4, 4, 4},
	}, &adv)
	if adv.Phase != "conversation" {
		t.Fatalf("phase after personality = %q", adv.Phase)
	}

	var turn struct {
		Index        int      `json:"index"`
		BotSentences []string `json:"bot_sentences"`
	}
	doPost(t, client, sessionURL+"/messages", "", map[string]string{
		"text": "Dzień dobry, mam pytanie o petycję.",
	}, &turn)
	if turn.Index != 1 || len(turn.BotSentences) == 0 {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	var timer struct {
		State      string `json:"state"`
		Display    string `json:"display"`
		CanEnd     bool   `json:"can_end"`
		CanMessage bool   `json:"can_message"`
	}
	doGet(t, client, sessionURL+"/timer", "", &timer)
	if timer.State != "blocked" || timer.CanEnd {
		t.Fatalf("timer right after first message: %+v", timer)
	}

	// Ending the conversation before the minimum must be rejected.
	resp := rawPost(t, client, sessionURL+"/advance", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("early conversation end returned %d", resp.StatusCode)
	}

	doPost(t, client, sessionURL+"/turns/1/reveal", "", nil, nil)

	researcherEmail := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	var reg struct {
		Token string `json:"token"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]string{
		"email":    researcherEmail,
		"password": "Secret123!",
	}, &reg)
	if reg.Token == "" {
		t.Fatalf("register did not return token")
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/export", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+reg.Token)
	exportResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer exportResp.Body.Close()
	if exportResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(exportResp.Body)
		t.Fatalf("export status %d body %s", exportResp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(exportResp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), created.ParticipantID) {
		t.Fatalf("export csv did not contain participant id")
	}
}

func rawPost(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	return resp
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url, token string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http get %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
