package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/pkg/errors"

	"github.com/haukened/storyline/internal/kv"
)

// conditionBuilder renders a non-zero kv.Condition as a DynamoDB condition.
func conditionBuilder(c kv.Condition) (expression.ConditionBuilder, error) {
	name := expression.Name(c.Name())
	switch c.Op() {
	case kv.CondExists:
		return name.AttributeExists(), nil
	case kv.CondNotExists:
		return name.AttributeNotExists(), nil
	case kv.CondEq:
		return name.Equal(expression.Value(c.Value())), nil
	case kv.CondNe:
		return name.NotEqual(expression.Value(c.Value())), nil
	case kv.CondLt:
		return name.LessThan(expression.Value(c.Value())), nil
	case kv.CondGt:
		return name.GreaterThan(expression.Value(c.Value())), nil
	case kv.CondBeginsWith:
		prefix, _ := c.Value().(string)
		return name.BeginsWith(prefix), nil
	case kv.CondAnd, kv.CondOr:
		terms := make([]expression.ConditionBuilder, 0, len(c.Terms()))
		for _, t := range c.Terms() {
			b, err := conditionBuilder(t)
			if err != nil {
				return expression.ConditionBuilder{}, err
			}
			terms = append(terms, b)
		}
		if len(terms) == 1 {
			return terms[0], nil
		}
		if c.Op() == kv.CondAnd {
			return expression.And(terms[0], terms[1], terms[2:]...), nil
		}
		return expression.Or(terms[0], terms[1], terms[2:]...), nil
	default:
		return expression.ConditionBuilder{}, errors.Errorf("dynamo: unsupported condition %d", c.Op())
	}
}

func updateBuilder(u *kv.Update) expression.UpdateBuilder {
	var ub expression.UpdateBuilder
	for _, a := range u.Actions() {
		switch a.Kind {
		case kv.ActionSet:
			ub = ub.Set(expression.Name(a.Name), expression.Value(a.Value))
		case kv.ActionRemove:
			ub = ub.Remove(expression.Name(a.Name))
		case kv.ActionAdd:
			ub = ub.Add(expression.Name(a.Name), expression.Value(a.Value))
		}
	}
	return ub
}

func projectionBuilder(names []string) expression.ProjectionBuilder {
	rest := make([]expression.NameBuilder, 0, len(names)-1)
	for _, n := range names[1:] {
		rest = append(rest, expression.Name(n))
	}
	return expression.NamesList(expression.Name(names[0]), rest...)
}

// build returns the zero Expression, whose accessors all return nil, when
// nothing was added to b.
func build(b expression.Builder, used bool) (expression.Expression, error) {
	if !used {
		return expression.Expression{}, nil
	}
	expr, err := b.Build()
	if err != nil {
		return expression.Expression{}, errors.Wrap(err, "dynamo: build expression")
	}
	return expr, nil
}

func writeExpr(cond kv.Condition, upd *kv.Update) (expression.Expression, error) {
	b := expression.NewBuilder()
	used := false
	if !cond.IsZero() {
		cb, err := conditionBuilder(cond)
		if err != nil {
			return expression.Expression{}, err
		}
		b = b.WithCondition(cb)
		used = true
	}
	if !upd.Empty() {
		b = b.WithUpdate(updateBuilder(upd))
		used = true
	}
	return build(b, used)
}

func projectionExpr(names []string) (expression.Expression, error) {
	if len(names) == 0 {
		return expression.Expression{}, nil
	}
	return build(expression.NewBuilder().WithProjection(projectionBuilder(names)), true)
}

func keyCondition(ix kv.Index, q kv.Query) (expression.KeyConditionBuilder, error) {
	pk := expression.Key(ix.PartitionKey).Equal(expression.Value(q.Partition))
	sk := expression.Key(ix.SortKey)
	switch q.Sort.Op() {
	case kv.CondNone:
		return pk, nil
	case kv.CondEq:
		return expression.KeyAnd(pk, sk.Equal(expression.Value(q.Sort.Value()))), nil
	case kv.CondLt:
		return expression.KeyAnd(pk, sk.LessThan(expression.Value(q.Sort.Value()))), nil
	case kv.CondGt:
		return expression.KeyAnd(pk, sk.GreaterThan(expression.Value(q.Sort.Value()))), nil
	case kv.CondBeginsWith:
		prefix, _ := q.Sort.Value().(string)
		return expression.KeyAnd(pk, sk.BeginsWith(prefix)), nil
	default:
		return expression.KeyConditionBuilder{}, errors.Errorf("dynamo: unsupported sort condition %d", q.Sort.Op())
	}
}

func queryExpr(ix kv.Index, q kv.Query) (expression.Expression, error) {
	kc, err := keyCondition(ix, q)
	if err != nil {
		return expression.Expression{}, err
	}
	b := expression.NewBuilder().WithKeyCondition(kc)
	if !q.Filter.IsZero() {
		fb, err := conditionBuilder(q.Filter)
		if err != nil {
			return expression.Expression{}, err
		}
		b = b.WithFilter(fb)
	}
	if len(q.Projection) > 0 {
		b = b.WithProjection(projectionBuilder(q.Projection))
	}
	return build(b, true)
}

func scanExpr(sc kv.Scan) (expression.Expression, error) {
	b := expression.NewBuilder()
	used := false
	if !sc.Filter.IsZero() {
		fb, err := conditionBuilder(sc.Filter)
		if err != nil {
			return expression.Expression{}, err
		}
		b = b.WithFilter(fb)
		used = true
	}
	if len(sc.Projection) > 0 {
		b = b.WithProjection(projectionBuilder(sc.Projection))
		used = true
	}
	return build(b, used)
}
