package tools

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCloudWatch struct {
	calls  int
	output *cloudwatch.GetMetricStatisticsOutput
	err    error
}

func (s *stubCloudWatch) GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	s.calls++
	return s.output, s.err
}

type stubEC2 struct {
	natOutput *ec2.DescribeNatGatewaysOutput
}

func (s *stubEC2) DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	return s.natOutput, nil
}

func (s *stubEC2) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{}, nil
}

func (s *stubEC2) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	return &ec2.DescribeSubnetsOutput{}, nil
}

func TestAWSAdapter_GetMetricCachesResult(t *testing.T) {
	now := time.Now()
	cw := &stubCloudWatch{
		output: &cloudwatch.GetMetricStatisticsOutput{
			Datapoints: []cwtypes.Datapoint{{
				Timestamp: aws.Time(now),
				Average:   aws.Float64(42.5),
				Unit:      cwtypes.StandardUnitCount,
			}},
		},
	}
	a := NewAWSAdapterWithClients(cw, &stubEC2{}, "us-east-1")

	args := map[string]any{"namespace": "AWS/NATGateway", "metric": "ErrorPortAllocation"}
	first, err := a.getMetric(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Contains(t, first.Content, "42.5")

	second, err := a.getMetric(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, cw.calls)
}

func TestAWSAdapter_DescribeNatGateways(t *testing.T) {
	e := &stubEC2{
		natOutput: &ec2.DescribeNatGatewaysOutput{
			NatGateways: []ec2types.NatGateway{{
				NatGatewayId:   aws.String("nat-0abc"),
				VpcId:          aws.String("vpc-1"),
				SubnetId:       aws.String("subnet-1"),
				State:          ec2types.NatGatewayStateFailed,
				FailureMessage: aws.String("port allocation exhausted"),
			}},
		},
	}
	a := NewAWSAdapterWithClients(&stubCloudWatch{}, e, "us-east-1")

	res, err := a.describeNatGateways(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "nat-0abc")
	assert.Contains(t, res.Content, "failed")
	assert.Contains(t, res.Content, "port allocation exhausted")
}

func TestParseDimensions(t *testing.T) {
	dims, terr := parseDimensions("NatGatewayId=nat-1, VpcId=vpc-2")
	require.Nil(t, terr)
	require.Len(t, dims, 2)
	assert.Equal(t, "NatGatewayId", aws.ToString(dims[0].Name))
	assert.Equal(t, "vpc-2", aws.ToString(dims[1].Value))

	_, terr = parseDimensions("missing-equals")
	require.NotNil(t, terr)
	assert.Equal(t, KindValidation, terr.Kind)
}
