package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestSMSAdapterSend(t *testing.T) {
	var gotPath, gotUser, gotTo, gotFrom, gotBody string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid":"SM123","status":"queued"}`)
	}))
	defer srv.Close()

	a := NewSMSAdapter(srv.URL, "AC42", "token", "+15550001111", testLogger())
	result, err := a.Send(context.Background(), Delivery{
		NotificationID: "n-1",
		PhoneNumber:    "+15557654321",
		Body:           "Attendance alert",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "/2010-04-01/Accounts/AC42/Messages.json", gotPath)
	assert.Equal(t, "AC42", gotUser)
	assert.Equal(t, "+15557654321", gotTo)
	assert.Equal(t, "+15550001111", gotFrom)
	assert.Equal(t, "Attendance alert", gotBody)
	assert.Equal(t, "SM123", result.ProviderID)
}

func TestSMSAdapterMissingPhoneIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	a := NewSMSAdapter(srv.URL, "AC42", "token", "+15550001111", testLogger())
	_, err := a.Send(context.Background(), Delivery{Body: "hello"})

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.EqualError(t, err, "no phone number configured")
	// The gateway is never contacted for a local configuration failure.
	assert.Zero(t, calls)
}

func TestSMSAdapterGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"message":"try later"}`)
	}))
	defer srv.Close()

	a := NewSMSAdapter(srv.URL, "AC42", "token", "+15550001111", testLogger())
	_, err := a.Send(context.Background(), Delivery{PhoneNumber: "+15557654321", Body: "x"})

	require.Error(t, err)
	// Gateway-side errors are retryable, not permanent.
	assert.False(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "503")
}
