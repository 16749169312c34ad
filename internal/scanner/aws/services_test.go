package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ══════════════════════════════════════════════════════════════════════════════
// EKS Tests
// ══════════════════════════════════════════════════════════════════════════════

type mockEKSClient struct {
	ListClustersFunc    func(ctx context.Context, params *eks.ListClustersInput, optFns ...func(*eks.Options)) (*eks.ListClustersOutput, error)
	DescribeClusterFunc func(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

func (m *mockEKSClient) ListClusters(ctx context.Context, params *eks.ListClustersInput, optFns ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
	return m.ListClustersFunc(ctx, params, optFns...)
}

func (m *mockEKSClient) DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	return m.DescribeClusterFunc(ctx, params, optFns...)
}

func TestScanEKS(t *testing.T) {
	mock := &mockEKSClient{
		ListClustersFunc: func(_ context.Context, _ *eks.ListClustersInput, _ ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
			return &eks.ListClustersOutput{Clusters: []string{"prod", "gone"}}, nil
		},
		DescribeClusterFunc: func(_ context.Context, params *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
			if aws.ToString(params.Name) == "gone" {
				return nil, errors.New("ResourceNotFoundException")
			}
			return &eks.DescribeClusterOutput{Cluster: &ekstypes.Cluster{
				Name:     aws.String("prod"),
				Arn:      aws.String("arn:aws:eks:us-east-1:123456789012:cluster/prod"),
				Version:  aws.String("1.29"),
				Endpoint: aws.String("https://prod.eks.amazonaws.com"),
				Status:   ekstypes.ClusterStatusActive,
				Tags:     map[string]string{"env": "prod", "team": "platform"},
			}}, nil
		},
	}

	fields := []string{FieldClusterName, FieldVersion, FieldStatus, scanner.FieldTags}
	s := &EKS{base: testBase(resource.KindAWSEKS, fields), client: mock}
	got, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "arn:aws:eks:us-east-1:123456789012:cluster/prod", got[0].ExternalID)
	assert.Equal(t, map[string]string{
		FieldClusterName: "prod",
		FieldVersion:     "1.29",
		FieldStatus:      "ACTIVE",
		"tag_env":        "prod",
		"tag_team":       "platform",
	}, got[0].MetaData)
}

func TestScanEKS_Error(t *testing.T) {
	mock := &mockEKSClient{
		ListClustersFunc: func(_ context.Context, _ *eks.ListClustersInput, _ ...func(*eks.Options)) (*eks.ListClustersOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	s := &EKS{base: testBase(resource.KindAWSEKS, nil), client: mock}
	_, err := collect(t, s)

	var scanErr *scanner.ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, resource.KindAWSEKS, scanErr.Kind)
}

// ══════════════════════════════════════════════════════════════════════════════
// Lambda Tests
// ══════════════════════════════════════════════════════════════════════════════

type mockLambdaClient struct {
	ListFunctionsFunc func(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	ListTagsFunc      func(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error)
}

func (m *mockLambdaClient) ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	return m.ListFunctionsFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) ListTags(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error) {
	return m.ListTagsFunc(ctx, params, optFns...)
}

func TestScanLambda(t *testing.T) {
	mock := &mockLambdaClient{
		ListFunctionsFunc: func(_ context.Context, params *lambda.ListFunctionsInput, _ ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
			if params.Marker == nil {
				return &lambda.ListFunctionsOutput{
					Functions: []lambdatypes.FunctionConfiguration{{
						FunctionName: aws.String("resize"),
						FunctionArn:  aws.String("arn:aws:lambda:us-east-1:123456789012:function:resize"),
						Runtime:      lambdatypes.RuntimeGo1x,
						MemorySize:   aws.Int32(256),
						Timeout:      aws.Int32(30),
					}},
					NextMarker: aws.String("page2"),
				}, nil
			}
			return &lambda.ListFunctionsOutput{
				Functions: []lambdatypes.FunctionConfiguration{{
					FunctionName: aws.String("notify"),
					FunctionArn:  aws.String("arn:aws:lambda:us-east-1:123456789012:function:notify"),
				}},
			}, nil
		},
		ListTagsFunc: func(_ context.Context, _ *lambda.ListTagsInput, _ ...func(*lambda.Options)) (*lambda.ListTagsOutput, error) {
			t.Fatal("tags were not requested")
			return nil, nil
		},
	}

	fields := []string{FieldFunctionName, FieldRuntime, FieldMemorySize, FieldTimeout}
	s := &Lambda{base: testBase(resource.KindAWSLambda, fields), client: mock}
	got, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{
		FieldFunctionName: "resize",
		FieldRuntime:      "go1.x",
		FieldMemorySize:   "256",
		FieldTimeout:      "30",
	}, got[0].MetaData)
	assert.Equal(t, "notify", got[1].Name)
}

// ══════════════════════════════════════════════════════════════════════════════
// DynamoDB Tests
// ══════════════════════════════════════════════════════════════════════════════

type mockDynamoDBClient struct {
	ListTablesFunc         func(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	DescribeTableFunc      func(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	ListTagsOfResourceFunc func(ctx context.Context, params *dynamodb.ListTagsOfResourceInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTagsOfResourceOutput, error)
}

func (m *mockDynamoDBClient) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return m.ListTablesFunc(ctx, params, optFns...)
}

func (m *mockDynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return m.DescribeTableFunc(ctx, params, optFns...)
}

func (m *mockDynamoDBClient) ListTagsOfResource(ctx context.Context, params *dynamodb.ListTagsOfResourceInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTagsOfResourceOutput, error) {
	return m.ListTagsOfResourceFunc(ctx, params, optFns...)
}

func TestScanDynamoDB(t *testing.T) {
	mock := &mockDynamoDBClient{
		ListTablesFunc: func(_ context.Context, params *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
			if params.ExclusiveStartTableName == nil {
				return &dynamodb.ListTablesOutput{TableNames: []string{"orders"}, LastEvaluatedTableName: aws.String("orders")}, nil
			}
			return &dynamodb.ListTablesOutput{TableNames: []string{"sessions"}}, nil
		},
		DescribeTableFunc: func(_ context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			name := aws.ToString(params.TableName)
			return &dynamodb.DescribeTableOutput{Table: &ddbtypes.TableDescription{
				TableName:          aws.String(name),
				TableArn:           aws.String("arn:aws:dynamodb:us-east-1:123456789012:table/" + name),
				TableStatus:        ddbtypes.TableStatusActive,
				ItemCount:          aws.Int64(42),
				TableSizeBytes:     aws.Int64(1024),
				BillingModeSummary: &ddbtypes.BillingModeSummary{BillingMode: ddbtypes.BillingModePayPerRequest},
			}}, nil
		},
		ListTagsOfResourceFunc: func(_ context.Context, _ *dynamodb.ListTagsOfResourceInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTagsOfResourceOutput, error) {
			return &dynamodb.ListTagsOfResourceOutput{Tags: []ddbtypes.Tag{{Key: aws.String("owner"), Value: aws.String("billing")}}}, nil
		},
	}

	fields := []string{FieldTableName, FieldItemCount, FieldSizeBytes, FieldBillingMode, scanner.FieldTags}
	s := &DynamoDB{base: testBase(resource.KindAWSDynamoDB, fields), client: mock}
	got, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{
		FieldTableName:   "orders",
		FieldItemCount:   "42",
		FieldSizeBytes:   "1024",
		FieldBillingMode: "PAY_PER_REQUEST",
		"tag_owner":      "billing",
	}, got[0].MetaData)
	assert.Equal(t, "arn:aws:dynamodb:us-east-1:123456789012:table/sessions", got[1].ExternalID)
}

// ══════════════════════════════════════════════════════════════════════════════
// SQS Tests
// ══════════════════════════════════════════════════════════════════════════════

type mockSQSClient struct {
	ListQueuesFunc    func(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	ListQueueTagsFunc func(ctx context.Context, params *sqs.ListQueueTagsInput, optFns ...func(*sqs.Options)) (*sqs.ListQueueTagsOutput, error)
}

func (m *mockSQSClient) ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error) {
	return m.ListQueuesFunc(ctx, params, optFns...)
}

func (m *mockSQSClient) ListQueueTags(ctx context.Context, params *sqs.ListQueueTagsInput, optFns ...func(*sqs.Options)) (*sqs.ListQueueTagsOutput, error) {
	return m.ListQueueTagsFunc(ctx, params, optFns...)
}

func TestScanSQS(t *testing.T) {
	const url = "https://sqs.us-east-1.amazonaws.com/123456789012/jobs"
	mock := &mockSQSClient{
		ListQueuesFunc: func(_ context.Context, params *sqs.ListQueuesInput, _ ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error) {
			assert.Equal(t, int32(1000), aws.ToInt32(params.MaxResults))
			return &sqs.ListQueuesOutput{QueueUrls: []string{url}}, nil
		},
		ListQueueTagsFunc: func(_ context.Context, _ *sqs.ListQueueTagsInput, _ ...func(*sqs.Options)) (*sqs.ListQueueTagsOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	fields := []string{FieldQueueName, FieldQueueURL, FieldRegion, scanner.FieldTags}
	s := &SQS{base: testBase(resource.KindAWSSQS, fields), client: mock}
	got, err := collect(t, s)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "jobs", got[0].Name)
	assert.Equal(t, url, got[0].ExternalID)
	assert.Equal(t, map[string]string{
		FieldQueueName: "jobs",
		FieldQueueURL:  url,
		FieldRegion:    "us-east-1",
	}, got[0].MetaData)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "jobs", queueName("https://sqs.us-east-1.amazonaws.com/123/jobs"))
	assert.Equal(t, "plain", queueName("plain"))
}
