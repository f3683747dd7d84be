package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
)

type fakeInvoker struct {
	gotID string
	res   *pipeline.Result
}

func (f *fakeInvoker) Handle(ctx context.Context, _ []byte) (*pipeline.Result, error) {
	f.gotID, _ = pipeline.InvocationIDFrom(ctx)
	res := *f.res
	res.InvocationID = f.gotID
	return &res, res.Err
}

func TestHandleUsesLambdaRequestID(t *testing.T) {
	inv := &fakeInvoker{res: &pipeline.Result{
		Success: true,
		Source:  domain.NewObjectAddress("b-incoming", "k"),
		Destinations: []domain.ObjectAddress{
			domain.NewObjectAddress("b-processed", "k"),
		},
	}}
	h := NewHandler(func() (Invoker, error) { return inv, nil })

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "aws-req-1"})
	resp, err := h.Handle(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "aws-req-1", inv.gotID)
	assert.Equal(t, "aws-req-1", resp.InvocationID)
	assert.Equal(t, "b-incoming", resp.Source.Bucket)
	assert.Len(t, resp.Destinations, 1)
}

func TestHandleGeneratesIDOutsideLambda(t *testing.T) {
	inv := &fakeInvoker{res: &pipeline.Result{Success: true}}
	h := NewHandler(func() (Invoker, error) { return inv, nil })

	_, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Len(t, inv.gotID, 36)
}

func TestHandleSurfacesFailure(t *testing.T) {
	failure := domain.NewError(domain.KindTransient, "store", "store s3://b-processed/k")
	inv := &fakeInvoker{res: &pipeline.Result{Err: failure, ErrKind: domain.KindTransient}}
	h := NewHandler(func() (Invoker, error) { return inv, nil })

	resp, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, failure)
}

func TestHandleBuildsOnce(t *testing.T) {
	builds := 0
	h := NewHandler(func() (Invoker, error) {
		builds++
		return nil, errors.New("no credentials")
	})

	for i := 0; i < 3; i++ {
		_, err := h.Handle(context.Background(), json.RawMessage(`{}`))
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindInvalidConfiguration))
	}
	assert.Equal(t, 1, builds)
}
