package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/dbfleet/dbfleet/types"
)

// Executor forwards a validated operation to the backend that
// actually performs it.
type Executor interface {
	Invoke(ctx context.Context, endpoint types.ServiceEndpoint, req types.OperationRequest) (*types.OperationResult, error)
}

// LambdaAPI is the subset of the Lambda client the executor uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaExecutor invokes the executor function directly.
type LambdaExecutor struct {
	client       LambdaAPI
	functionName string
}

// NewLambdaExecutor creates a Lambda-backed executor.
func NewLambdaExecutor(client LambdaAPI, functionName string) *LambdaExecutor {
	return &LambdaExecutor{client: client, functionName: functionName}
}

// Invoke calls the function synchronously with the request as payload.
func (e *LambdaExecutor) Invoke(ctx context.Context, endpoint types.ServiceEndpoint, req types.OperationRequest) (*types.OperationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation request: %w", err)
	}

	out, err := e.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(e.functionName),
		Payload:      payload,
	})
	if err != nil {
		return nil, &types.DownstreamUnavailableError{Service: endpoint.LogicalName, Err: err}
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("executor function error: %s", aws.ToString(out.FunctionError))
	}

	var result types.OperationResult
	if err := json.Unmarshal(out.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode executor response: %w", err)
	}
	return &result, nil
}

// HTTPExecutor posts the operation to the resolved endpoint URL.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTP-backed executor with a bounded
// per-call timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}}
}

// Invoke posts the request to <endpoint>/operations.
func (e *HTTPExecutor) Invoke(ctx context.Context, endpoint types.ServiceEndpoint, req types.OperationRequest) (*types.OperationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL+"/operations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build executor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &types.DownstreamUnavailableError{Service: endpoint.LogicalName, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &types.DownstreamUnavailableError{
			Service: endpoint.LogicalName,
			Err:     fmt.Errorf("executor returned %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("executor rejected request: %d: %s", resp.StatusCode, body)
	}

	var result types.OperationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode executor response: %w", err)
	}
	return &result, nil
}
