package e2e

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"dm-relay/auth"
)

type BaseWsSuite struct {
	suite.Suite
	Config Config
	tokens *auth.TokenService
}

// SetupSuite loads the environment configuration before running tests.
// Without a relay address the suite skips instead of failing.
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR not set, skipping end-to-end suite")
	}
	s.tokens = auth.NewTokenService(s.Config.TokenSecret, time.Hour)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WsConn opens an authenticated websocket session for userID with
// colorized step logging.
func (s *BaseWsSuite) WsConn(t *testing.T, name, userID string) *websocket.Conn {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	token, err := s.tokens.Generate(userID)
	s.Require().NoError(err)

	u := url.URL{Scheme: "ws", Host: s.Config.RelayAddr, Path: "/ws",
		RawQuery: url.Values{"token": {token}}.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	s.Require().NoError(err, "dial %s", u.Host)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one client frame, logging the body when E2E_DEBUG_JSON is on.
func (s *BaseWsSuite) Send(t *testing.T, conn *websocket.Conn, eventName string, payload any) {
	raw, err := json.Marshal(payload)
	s.Require().NoError(err)
	body, err := json.Marshal(frame{Event: eventName, Data: raw})
	s.Require().NoError(err)
	if s.Config.DebugJSON {
		t.Logf(">> %s", body)
	}
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, body))
}

// Await reads frames until one with the wanted event name arrives or the
// deadline passes. Unrelated frames (presence churn from other suites) are
// logged and skipped.
func (s *BaseWsSuite) Await(t *testing.T, conn *websocket.Conn, eventName string, deadline time.Duration) frame {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(deadline)))
	for {
		_, data, err := conn.ReadMessage()
		s.Require().NoError(err, "waiting for %q", eventName)
		var f frame
		s.Require().NoError(json.Unmarshal(data, &f))
		if s.Config.DebugJSON {
			t.Logf("<< %s", data)
		}
		if f.Event == eventName {
			return f
		}
		t.Logf("skipping %q while waiting for %q", f.Event, eventName)
	}
}
