package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PendingRepo provides typed DynamoDB operations for the pending registrations
// table. Promotion also writes to the users table.
type PendingRepo struct {
	client     API
	tableName  string
	usersTable string
}

func NewPendingRepo(client API, tableName, usersTable string) *PendingRepo {
	return &PendingRepo{client: client, tableName: tableName, usersTable: usersTable}
}

func (r *PendingRepo) Get(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrEmail, email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	var p domain.PendingRegistration
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending registration: %w", err)
	}
	return &p, nil
}

// Put inserts or replaces the registration keyed by p.Email.
func (r *PendingRepo) Put(ctx context.Context, p *domain.PendingRegistration) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal pending registration: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *PendingRepo) UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		attrOTPCode:   code,
		attrOTPExpiry: expiry.Unix(),
		attrUpdatedAt: now,
	})
	if err != nil {
		return err
	}
	ue.Names["#pk"] = attrEmail
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrEmail, email),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
	}
	return err
}

// Promote deletes the pending item and creates the account in one transaction.
func (r *PendingRepo) Promote(ctx context.Context, email string, u *domain.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:                aws.String(r.tableName),
				Key:                      strKey(attrEmail, email),
				ConditionExpression:      aws.String("attribute_exists(#pk)"),
				ExpressionAttributeNames: map[string]string{"#pk": attrEmail},
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.usersTable),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
				ExpressionAttributeNames: map[string]string{"#pk": attrEmail},
			}},
		},
	})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := tce.CancellationReasons
		if len(reasons) > 0 && aws.ToString(reasons[0].Code) == condCheckFailed {
			return fmt.Errorf("pending registration %s: %w", email, domain.ErrNotFound)
		}
		if len(reasons) > 1 && aws.ToString(reasons[1].Code) == condCheckFailed {
			return fmt.Errorf("account %s: %w", u.Email, domain.ErrConflict)
		}
	}
	return err
}

// DeleteExpired scans for registrations with otp_expiry <= cutoff and deletes
// each one conditionally, so an item refreshed by a resend after the scan is kept.
func (r *PendingRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.Unix(), 10)}
	names := map[string]string{"#pk": attrEmail, "#exp": attrOTPExpiry}
	values := map[string]types.AttributeValue{":cutoff": limit}

	var (
		deleted  int64
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          aws.String("#exp <= :cutoff"),
			ProjectionExpression:      aws.String("#pk"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("scan expired registrations: %w", err)
		}
		for _, item := range out.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(r.tableName),
				Key:                       map[string]types.AttributeValue{attrEmail: item[attrEmail]},
				ConditionExpression:       aws.String("#exp <= :cutoff"),
				ExpressionAttributeNames:  map[string]string{"#exp": attrOTPExpiry},
				ExpressionAttributeValues: values,
			})
			switch {
			case err == nil:
				deleted++
			case isConditionFailed(err):
				// refreshed since the scan
			default:
				return deleted, fmt.Errorf("delete expired registration: %w", err)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
