package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/arb-appeal-extractor/internal/publisher"
)

func TestBuildMessageCarriesNoticeAttributes(t *testing.T) {
	t.Parallel()

	notice := publisher.Notice{BatchID: "b1", RollNumber: "r1", Outcome: "success", Appeals: 2}
	msg, err := buildMessage(context.Background(), notice)
	require.NoError(t, err)
	require.Equal(t, "b1", msg.Attributes["batch_id"])
	require.Equal(t, "r1", msg.Attributes["roll_number"])
	require.Equal(t, "success", msg.Attributes["outcome"])

	var decoded publisher.Notice
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, notice.Appeals, decoded.Appeals)
}

func TestBuildMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := buildMessage(context.Background(), make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	const parent = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"
	c := &pubsubCarrier{attrs: map[string]string{"traceparent": parent}}
	ctx := propagation.TraceContext{}.Extract(context.Background(), c)

	out := &pubsubCarrier{attrs: map[string]string{}}
	propagation.TraceContext{}.Inject(ctx, out)
	require.Equal(t, parent, out.Get("traceparent"))
	require.Contains(t, out.Keys(), "traceparent")
}
