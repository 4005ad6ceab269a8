package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtExpirationTimeSeconds = 120

// sendStartCallback POSTs a signed start event to CALLBACK_URL, mirroring
// the teacher's rtmp_callback.go. Returns the stream ID assigned by
// the callback endpoint (its "stream-id" response header) and whether
// the publish should be accepted.
func (s *Session) sendStartCallback() (streamID string, ok bool) {
	callbackURL := os.Getenv("CALLBACK_URL")
	if callbackURL == "" {
		return "", true
	}

	logDebugSession(s.id, s.ip, "POST "+callbackURL+" | Event: START | Channel: "+s.channel)

	tokenb64, err := signRTMPEventToken(jwt.MapClaims{
		"sub":       jwtSubject(),
		"event":     "start",
		"channel":   s.channel,
		"key":       s.key,
		"client_ip": s.ip,
		"exp":       time.Now().Unix() + jwtExpirationTimeSeconds,
	})
	if err != nil {
		logError(err)
		return "", false
	}

	res, err := postCallback(callbackURL, tokenb64)
	if err != nil {
		logError(err)
		return "", false
	}
	if res.StatusCode != http.StatusOK {
		logDebugSession(s.id, s.ip, "Callback request ended with status code: "+fmt.Sprint(res.StatusCode))
		return "", false
	}

	return res.Header.Get("stream-id"), true
}

// sendStopCallback POSTs a signed stop event to CALLBACK_URL.
func (s *Session) sendStopCallback() bool {
	callbackURL := os.Getenv("CALLBACK_URL")
	if callbackURL == "" {
		return true
	}

	logDebugSession(s.id, s.ip, "POST "+callbackURL+" | Event: STOP | Channel: "+s.channel)

	tokenb64, err := signRTMPEventToken(jwt.MapClaims{
		"sub":       jwtSubject(),
		"event":     "stop",
		"channel":   s.channel,
		"key":       s.key,
		"stream_id": s.streamID,
		"client_ip": s.ip,
		"exp":       time.Now().Unix() + jwtExpirationTimeSeconds,
	})
	if err != nil {
		logError(err)
		return false
	}

	res, err := postCallback(callbackURL, tokenb64)
	if err != nil {
		logError(err)
		return false
	}
	if res.StatusCode != http.StatusOK {
		logDebugSession(s.id, s.ip, "Callback request ended with status code: "+fmt.Sprint(res.StatusCode))
		return false
	}

	return true
}

func jwtSubject() string {
	if subject := os.Getenv("CUSTOM_JWT_SUBJECT"); subject != "" {
		return subject
	}
	return "rtmp_event"
}

func signRTMPEventToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("JWT_SECRET")))
}

func postCallback(url string, tokenb64 string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("rtmp-event", tokenb64)
	return http.DefaultClient.Do(req)
}
