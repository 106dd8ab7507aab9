package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/alerts/notify"
	assets "coldchain-cloud/internal/assets/domain"
)

func TestFakeProviderAcceptsNotifyChannels(t *testing.T) {
	srv := newFakeProvider(0, 0, "secret", zap.NewNop())
	server := httptest.NewServer(srv.routes())
	defer server.Close()

	sms, err := notify.NewProviderChannel(notify.ChannelSMS, server.URL, "secret")
	require.NoError(t, err)
	email, err := notify.NewWebhookChannel(notify.ChannelEmail, server.URL+"/webhooks/email")
	require.NoError(t, err)

	msg := notify.Message{AlertID: "alert-1", Layer: alerts.Layer2, Subject: "HIGH_TEMP on Freezer A (layer 2)", Body: "Cold cell: Freezer A"}
	msg.Contact = assets.Contact{Name: "Ana", Phone: "+3100"}
	require.NoError(t, sms.Send(context.Background(), msg))
	msg.Contact = assets.Contact{Name: "Ben", Email: "ben@example.com"}
	require.NoError(t, email.Send(context.Background(), msg))

	assert.Equal(t, int64(1), srv.byChannel["sms"])
	assert.Equal(t, int64(1), srv.byChannel["email"])
	assert.Equal(t, int64(2), srv.byAlert["alert-1"])

	wrongToken, err := notify.NewProviderChannel(notify.ChannelVoice, server.URL, "other")
	require.NoError(t, err)
	msg.Contact = assets.Contact{Phone: "+3100"}
	assert.Error(t, wrongToken.Send(context.Background(), msg))
}
