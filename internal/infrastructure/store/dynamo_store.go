package store

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps entities in one DynamoDB table.
// Partition key "collection", sort key "entity_key".
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// dynamoEntity represents the DynamoDB item structure
type dynamoEntity struct {
	Collection string `dynamodbav:"collection"`
	Key        string `dynamodbav:"entity_key"`
	Data       string `dynamodbav:"data"`
	Version    int64  `dynamodbav:"version"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

// Attribute names are aliased because DATA and COLLECTION are reserved words.
var dynamoNames = map[string]string{
	"#c": "collection",
	"#k": "entity_key",
	"#d": "data",
	"#v": "version",
	"#u": "updated_at",
}

// NewDynamoClient loads the default AWS config, optionally pointing at a local endpoint.
func NewDynamoClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            dynamoKey(collection, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", collection, key)
	}
	if result.Item == nil {
		return nil, notFound(collection, key)
	}
	return unmarshalEntity(result.Item)
}

func (s *DynamoStore) Scan(ctx context.Context, collection string) ([]*Record, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.tableName),
		KeyConditionExpression:   aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{"#c": "collection"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true), // Ascending order by entity_key
	})

	records := make([]*Record, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query %s", collection)
		}
		for _, item := range page.Items {
			rec, err := unmarshalEntity(item)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *DynamoStore) Insert(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	item := dynamoEntity{
		Collection: collection,
		Key:        key,
		Data:       string(payload),
		Version:    1,
		UpdatedAt:  s.now().UTC().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal entity")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "entity_key"},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, errors.Mark(alreadyExists(collection, key), err)
		}
		return nil, errors.Wrapf(err, "failed to insert %s/%s", collection, key)
	}
	return toRecord(item)
}

func (s *DynamoStore) Put(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	// ADD initialises a missing version to 0 before incrementing.
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      dynamoKey(collection, key),
		UpdateExpression:         aws.String("SET #d = :d, #u = :u ADD #v :one"),
		ExpressionAttributeNames: pickNames("#d", "#u", "#v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d":   &types.AttributeValueMemberS{Value: string(payload)},
			":u":   &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to put %s/%s", collection, key)
	}
	return unmarshalEntity(result.Attributes)
}

func (s *DynamoStore) Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      dynamoKey(collection, key),
		UpdateExpression:         aws.String("SET #d = :d, #u = :u, #v = #v + :one"),
		ConditionExpression:      aws.String("attribute_exists(#k) AND #v = :expected"),
		ExpressionAttributeNames: pickNames("#d", "#u", "#v", "#k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d":        &types.AttributeValueMemberS{Value: string(payload)},
			":u":        &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
			":one":      &types.AttributeValueMemberN{Value: "1"},
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if ccf.Item == nil {
				return nil, notFound(collection, key)
			}
			return nil, errors.Mark(versionConflict(collection, key, expectedVersion), err)
		}
		return nil, errors.Wrapf(err, "failed to update %s/%s", collection, key)
	}
	return unmarshalEntity(result.Attributes)
}

func (s *DynamoStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      dynamoKey(collection, key),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": "entity_key"},
	})
	if err != nil {
		if isConditionFailed(err) {
			return notFound(collection, key)
		}
		return errors.Wrapf(err, "failed to delete %s/%s", collection, key)
	}
	return nil
}

func dynamoKey(collection, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"entity_key": &types.AttributeValueMemberS{Value: key},
	}
}

func pickNames(aliases ...string) map[string]string {
	out := make(map[string]string, len(aliases))
	for _, a := range aliases {
		out[a] = dynamoNames[a]
	}
	return out
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func unmarshalEntity(item map[string]types.AttributeValue) (*Record, error) {
	var de dynamoEntity
	if err := attributevalue.UnmarshalMap(item, &de); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal entity")
	}
	return toRecord(de)
}

func toRecord(de dynamoEntity) (*Record, error) {
	updatedAt, err := time.Parse(time.RFC3339Nano, de.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at of %s/%s", de.Collection, de.Key)
	}
	return &Record{
		Collection: de.Collection,
		Key:        de.Key,
		Data:       []byte(de.Data),
		Version:    de.Version,
		UpdatedAt:  updatedAt,
	}, nil
}
