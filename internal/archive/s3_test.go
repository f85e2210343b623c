package archive

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"delivery-backend/internal/models"
)

type mockPutter struct {
	mock.Mock
	body []byte
}

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if in.Body != nil {
		m.body, _ = io.ReadAll(in.Body)
	}
	args := m.Called(*in.Bucket, *in.Key)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func snapshot() *models.ArchiveSnapshot {
	rid := 4
	return &models.ArchiveSnapshot{
		TakenAt:    time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC),
		TakenBy:    1,
		Requests:   []*models.DeliveryRequest{{ID: 4, RequestStatus: models.RequestRejected}},
		Deliveries: []*models.Delivery{{ID: 4, RequestID: &rid, Status: models.DeliveryCancelled, IsArchived: true}},
	}
}

func TestUploadWritesJSON(t *testing.T) {
	logger, _ := test.NewNullLogger()
	putter := &mockPutter{}
	putter.On("PutObject", "archive-bucket", mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "snapshots/20240610_083000_") && strings.HasSuffix(key, ".json")
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	u := NewUploader(putter, "archive-bucket", "snapshots", logger)
	key, err := u.Upload(context.Background(), snapshot())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "snapshots/"))
	putter.AssertExpectations(t)

	var decoded models.ArchiveSnapshot
	require.NoError(t, json.Unmarshal(putter.body, &decoded))
	assert.Len(t, decoded.Requests, 1)
	assert.Len(t, decoded.Deliveries, 1)
	assert.Equal(t, 1, decoded.TakenBy)
}

func TestUploadFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	putter := &mockPutter{}
	putter.On("PutObject", "archive-bucket", mock.Anything).Return(nil, errors.New("access denied"))

	u := NewUploader(putter, "archive-bucket", "", logger)
	_, err := u.Upload(context.Background(), snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
