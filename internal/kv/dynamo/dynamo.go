// Package dynamo provides a DynamoDB implementation of the kv.Store port.
// Items are stored as native DynamoDB maps in one table keyed by
// (partitionKey, sortKey); secondary indexes are the table's global secondary
// indexes, named and keyed exactly as the kv.Index values passed to New.
package dynamo

import (
	"context"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/haukened/storyline/internal/kv"
)

var _ kv.Store = (*Store)(nil)

// batchGetLimit is the most keys one BatchGetItem request may carry.
const batchGetLimit = 100

// API is the subset of *dynamodb.Client the store calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// NewClient loads the default AWS configuration for region and returns a
// DynamoDB client. A non-empty endpoint overrides the service endpoint, e.g.
// for DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "dynamo: load aws config")
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Store implements kv.Store on one DynamoDB table.
type Store struct {
	api     API
	table   string
	indexes map[string]kv.Index
}

// New constructs a Store over table. indexes lists the global secondary
// indexes queries may name.
func New(api API, table string, indexes ...kv.Index) (*Store, error) {
	if table == "" {
		return nil, errors.New("dynamo: table name is required")
	}
	s := &Store{api: api, table: table, indexes: make(map[string]kv.Index, len(indexes))}
	for _, ix := range indexes {
		if ix.IsPrimary() || ix.PartitionKey == "" || ix.SortKey == "" {
			return nil, errors.Errorf("dynamo: invalid index definition %+v", ix)
		}
		s.indexes[ix.Name] = ix
	}
	return s, nil
}

func keyAttrs(k kv.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		kv.PartitionKeyAttr: &types.AttributeValueMemberS{Value: k.PartitionKey},
		kv.SortKeyAttr:      &types.AttributeValueMemberS{Value: k.SortKey},
	}
}

func marshalItem(it kv.Item) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(map[string]any(it))
	if err != nil {
		return nil, errors.Wrap(err, "dynamo: encode item")
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (kv.Item, error) {
	if len(av) == 0 {
		return nil, nil
	}
	var it kv.Item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, errors.Wrap(err, "dynamo: decode item")
	}
	return it, nil
}

func unmarshalItems(avs []map[string]types.AttributeValue) ([]kv.Item, error) {
	out := make([]kv.Item, 0, len(avs))
	for _, av := range avs {
		it, err := unmarshalItem(av)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// translate maps DynamoDB condition failures onto the kv sentinels.
func translate(err error, op string) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return kv.ErrConditionalCheckFailed
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := make([]string, len(tce.CancellationReasons))
		for i, r := range tce.CancellationReasons {
			reasons[i] = aws.ToString(r.Code)
		}
		return &kv.CanceledError{Reasons: reasons}
	}
	return errors.Wrap(err, "dynamo: "+op)
}

// GetItem returns the item or nil.
func (s *Store) GetItem(ctx context.Context, key kv.Key, c kv.Consistency) (kv.Item, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(c == kv.Strong),
	})
	if err != nil {
		return nil, translate(err, "get item")
	}
	return unmarshalItem(out.Item)
}

// PutItem writes item if cond holds for the current item.
func (s *Store) PutItem(ctx context.Context, item kv.Item, cond kv.Condition) error {
	av, err := marshalItem(item)
	if err != nil {
		return err
	}
	expr, err := writeExpr(cond, nil)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return translate(err, "put item")
	}
	return nil
}

// UpdateItem applies upd if cond holds and returns the new item.
func (s *Store) UpdateItem(ctx context.Context, key kv.Key, upd *kv.Update, cond kv.Condition) (kv.Item, error) {
	if upd.Empty() {
		return nil, errors.New("dynamo: update has no actions")
	}
	expr, err := writeExpr(cond, upd)
	if err != nil {
		return nil, err
	}
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttrs(key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, translate(err, "update item")
	}
	return unmarshalItem(out.Attributes)
}

// DeleteItem removes the item if cond holds.
func (s *Store) DeleteItem(ctx context.Context, key kv.Key, cond kv.Condition) error {
	expr, err := writeExpr(cond, nil)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttrs(key),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return translate(err, "delete item")
	}
	return nil
}

// TransactWriteItems applies every item or none.
func (s *Store) TransactWriteItems(ctx context.Context, items []kv.TransactItem) error {
	if err := kv.ValidateTransaction(items); err != nil {
		return err
	}
	tw := make([]types.TransactWriteItem, 0, len(items))
	for _, ti := range items {
		w, err := s.transactItem(ti)
		if err != nil {
			return err
		}
		tw = append(tw, w)
	}
	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tw}); err != nil {
		return translate(err, "transact write items")
	}
	return nil
}

func (s *Store) transactItem(ti kv.TransactItem) (types.TransactWriteItem, error) {
	var w types.TransactWriteItem
	var upd *kv.Update
	if ti.Kind == kv.OpUpdate {
		if ti.Update.Empty() {
			return w, errors.New("dynamo: update has no actions")
		}
		upd = ti.Update
	}
	expr, err := writeExpr(ti.Condition, upd)
	if err != nil {
		return w, err
	}
	table := aws.String(s.table)
	switch ti.Kind {
	case kv.OpPut:
		av, err := marshalItem(ti.Item)
		if err != nil {
			return w, err
		}
		w.Put = &types.Put{TableName: table, Item: av, ConditionExpression: expr.Condition(),
			ExpressionAttributeNames: expr.Names(), ExpressionAttributeValues: expr.Values()}
	case kv.OpUpdate:
		w.Update = &types.Update{TableName: table, Key: keyAttrs(ti.Key), UpdateExpression: expr.Update(),
			ConditionExpression: expr.Condition(), ExpressionAttributeNames: expr.Names(), ExpressionAttributeValues: expr.Values()}
	case kv.OpDelete:
		w.Delete = &types.Delete{TableName: table, Key: keyAttrs(ti.Key), ConditionExpression: expr.Condition(),
			ExpressionAttributeNames: expr.Names(), ExpressionAttributeValues: expr.Values()}
	case kv.OpConditionCheck:
		if ti.Condition.IsZero() {
			return w, errors.New("dynamo: condition check without a condition")
		}
		w.ConditionCheck = &types.ConditionCheck{TableName: table, Key: keyAttrs(ti.Key), ConditionExpression: expr.Condition(),
			ExpressionAttributeNames: expr.Names(), ExpressionAttributeValues: expr.Values()}
	default:
		return w, errors.Errorf("dynamo: unknown transaction op %d", ti.Kind)
	}
	return w, nil
}

// QueryPage returns one page of an index partition in ascending sort key order.
func (s *Store) QueryPage(ctx context.Context, q kv.Query) (kv.Page, error) {
	in := &dynamodb.QueryInput{TableName: aws.String(s.table)}
	ix := kv.Primary
	if !q.Index.IsPrimary() {
		known, ok := s.indexes[q.Index.Name]
		if !ok {
			return kv.Page{}, errors.Errorf("dynamo: unknown index %q", q.Index.Name)
		}
		ix = known
		in.IndexName = aws.String(ix.Name)
	} else {
		in.ConsistentRead = aws.Bool(q.Consistency == kv.Strong)
	}
	expr, err := queryExpr(ix, q)
	if err != nil {
		return kv.Page{}, err
	}
	in.KeyConditionExpression = expr.KeyCondition()
	in.FilterExpression = expr.Filter()
	in.ProjectionExpression = expr.Projection()
	in.ExpressionAttributeNames = expr.Names()
	in.ExpressionAttributeValues = expr.Values()
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}
	if q.StartKey != nil {
		if in.ExclusiveStartKey, err = marshalItem(q.StartKey); err != nil {
			return kv.Page{}, err
		}
	}
	out, err := s.api.Query(ctx, in)
	if err != nil {
		return kv.Page{}, translate(err, "query")
	}
	return page(out.Items, out.LastEvaluatedKey)
}

// ScanPage reads one page of the whole table.
func (s *Store) ScanPage(ctx context.Context, sc kv.Scan) (kv.Page, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	expr, err := scanExpr(sc)
	if err != nil {
		return kv.Page{}, err
	}
	in.FilterExpression = expr.Filter()
	in.ProjectionExpression = expr.Projection()
	in.ExpressionAttributeNames = expr.Names()
	in.ExpressionAttributeValues = expr.Values()
	if sc.Limit > 0 {
		in.Limit = aws.Int32(int32(sc.Limit))
	}
	if sc.StartKey != nil {
		if in.ExclusiveStartKey, err = marshalItem(sc.StartKey); err != nil {
			return kv.Page{}, err
		}
	}
	out, err := s.api.Scan(ctx, in)
	if err != nil {
		return kv.Page{}, translate(err, "scan")
	}
	return page(out.Items, out.LastEvaluatedKey)
}

func page(items []map[string]types.AttributeValue, last map[string]types.AttributeValue) (kv.Page, error) {
	var p kv.Page
	var err error
	if len(items) > 0 {
		if p.Items, err = unmarshalItems(items); err != nil {
			return kv.Page{}, err
		}
	}
	if p.LastKey, err = unmarshalItem(last); err != nil {
		return kv.Page{}, err
	}
	return p, nil
}

// BatchGetItems reads keys in requests of at most 100, resubmitting the keys
// DynamoDB reports as unprocessed until none remain.
func (s *Store) BatchGetItems(ctx context.Context, keys []kv.Key, c kv.Consistency, projection ...string) ([]kv.Item, error) {
	expr, err := projectionExpr(projection)
	if err != nil {
		return nil, err
	}
	var out []kv.Item
	for chunk := range slices.Chunk(keys, batchGetLimit) {
		ka := types.KeysAndAttributes{
			Keys:                     make([]map[string]types.AttributeValue, 0, len(chunk)),
			ProjectionExpression:     expr.Projection(),
			ExpressionAttributeNames: expr.Names(),
			ConsistentRead:           aws.Bool(c == kv.Strong),
		}
		for _, k := range chunk {
			ka.Keys = append(ka.Keys, keyAttrs(k))
		}
		pending := map[string]types.KeysAndAttributes{s.table: ka}
		for len(pending) > 0 {
			res, err := s.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, translate(err, "batch get items")
			}
			items, err := unmarshalItems(res.Responses[s.table])
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
			rest := res.UnprocessedKeys[s.table]
			if len(rest.Keys) == 0 {
				break
			}
			rest.ConsistentRead = ka.ConsistentRead
			pending = map[string]types.KeysAndAttributes{s.table: rest}
		}
	}
	return out, nil
}
