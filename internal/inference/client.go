package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lomolisso/esn-cloud-api/internal/client"
	"github.com/lomolisso/esn-cloud-api/internal/domain"
)

// Client talks to the inference service: submit a prediction request, then
// poll its task until it resolves. It also uploads the cloud tier model.
type Client struct {
	inference *client.Client
}

func NewClient(inference *client.Client) *Client {
	return &Client{inference: inference}
}

// SubmitPrediction returns the task id of the accepted request
func (c *Client) SubmitPrediction(ctx context.Context, req domain.PredictionRequest) (string, error) {
	resp, err := c.inference.Put(ctx, "/model/prediction/request", req)
	if err := client.Expect(resp, err, http.StatusAccepted); err != nil {
		return "", fmt.Errorf("submit prediction request: %w", err)
	}

	var submission domain.TaskSubmission
	if err := resp.Decode(&submission); err != nil {
		return "", fmt.Errorf("submit prediction request: invalid answer: %w", err)
	}
	if submission.TaskID == "" {
		return "", fmt.Errorf("submit prediction request: answer carries no task id")
	}
	return submission.TaskID, nil
}

func (c *Client) PollPrediction(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	resp, err := c.inference.Get(ctx, "/model/prediction/result/"+url.PathEscape(taskID))
	if err := client.Expect(resp, err, http.StatusOK); err != nil {
		return nil, fmt.Errorf("poll prediction task %s: %w", taskID, err)
	}

	var status domain.TaskStatus
	if err := resp.Decode(&status); err != nil {
		return nil, fmt.Errorf("poll prediction task %s: invalid answer: %w", taskID, err)
	}
	return &status, nil
}

// SetCloudModel replaces the model the inference service predicts with
func (c *Client) SetCloudModel(ctx context.Context, model domain.ModelPayload) error {
	resp, err := c.inference.Post(ctx, "/model/upload", model)
	if err := client.Expect(resp, err, http.StatusAccepted); err != nil {
		return fmt.Errorf("upload cloud model: %w", err)
	}
	return nil
}
