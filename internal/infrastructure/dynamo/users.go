package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/go-otp-auth/internal/pkg/id"
)

// UserRepo provides typed DynamoDB operations for the users table.
// PK: phone_no. GSI email-index: email. Each user item is paired with an
// email guard item keyed "email#<addr>" that enforces email uniqueness.
type UserRepo struct {
	client    API
	tableName string
	clock     clock.Clock
}

func NewUserRepo(client API, tableName string, clk clock.Clock) *UserRepo {
	if clk == nil {
		clk = clock.System{}
	}
	return &UserRepo{client: client, tableName: tableName, clock: clk}
}

func (r *UserRepo) GetByPhone(ctx context.Context, phoneNo string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldPhoneNo, phoneNo),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.queryGSI(ctx, emailIndex, fieldEmail, email)
}

// FindByEmailOrPhone returns the record holding phoneNo, or failing that the
// record holding email.
func (r *UserRepo) FindByEmailOrPhone(ctx context.Context, email, phoneNo string) (*domain.User, error) {
	u, err := r.GetByPhone(ctx, phoneNo)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return r.GetByEmail(ctx, email)
}

// UpsertByPhone writes patch onto the record keyed by patch.PhoneNo, creating
// it when absent, and returns the stored record. The user item and its email
// guard are written in one transaction, so a verified record is never
// overwritten and no two records hold the same email.
func (r *UserRepo) UpsertByPhone(ctx context.Context, patch domain.RegistrationPatch) (*domain.User, error) {
	current, err := r.GetByPhone(ctx, patch.PhoneNo)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		current = nil
	case err != nil:
		return nil, err
	case current.IsVerified:
		return nil, fmt.Errorf("phone %s belongs to a verified user: %w", patch.PhoneNo, domain.ErrConflict)
	}

	in, err := r.upsertInput(patch, current)
	if err != nil {
		return nil, err
	}
	if _, err := r.client.TransactWriteItems(ctx, in); err != nil {
		return nil, upsertError(patch, err)
	}
	return r.GetByPhone(ctx, patch.PhoneNo)
}

// upsertInput builds the registration transaction. Item 0 is the user record,
// conditioned on the snapshot read by the caller. Item 1 claims the email
// guard. Item 2, present only when a pending record changes email, releases
// the old guard.
func (r *UserRepo) upsertInput(patch domain.RegistrationPatch, current *domain.User) (*dynamodb.TransactWriteItemsInput, error) {
	now := r.clock.Now()
	ue, err := buildUpsertExpr(
		map[string]interface{}{
			fieldFirstName:    patch.FirstName,
			fieldLastName:     patch.LastName,
			fieldEmail:        patch.Email,
			fieldDateOfBirth:  patch.DateOfBirth,
			fieldPasswordHash: patch.PasswordHash,
			fieldOTP:          patch.OTP,
			fieldOTPExpiry:    patch.OTPExpiry,
			fieldIsVerified:   false,
			fieldUpdatedAt:    now,
		},
		map[string]interface{}{
			fieldUserID:    id.NewAt(now),
			fieldCreatedAt: now,
		},
	)
	if err != nil {
		return nil, err
	}
	ue.Names["#pk"] = fieldPhoneNo
	cond := "attribute_not_exists(#pk)"
	if current != nil {
		ue.Names["#verified"] = fieldIsVerified
		ue.Names["#email"] = fieldEmail
		ue.Values[":unverified"] = &types.AttributeValueMemberBOOL{Value: false}
		ue.Values[":prevEmail"] = &types.AttributeValueMemberS{Value: current.Email}
		cond = "#verified = :unverified AND #email = :prevEmail"
	}

	items := []types.TransactWriteItem{
		{Update: &types.Update{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey(fieldPhoneNo, patch.PhoneNo),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		}},
		{Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item: map[string]types.AttributeValue{
				fieldPhoneNo:    &types.AttributeValueMemberS{Value: emailGuardPrefix + patch.Email},
				fieldGuardOwner: &types.AttributeValueMemberS{Value: patch.PhoneNo},
			},
			ConditionExpression:       aws.String("attribute_not_exists(#pk) OR #owner = :owner"),
			ExpressionAttributeNames:  guardNames(),
			ExpressionAttributeValues: guardValues(patch.PhoneNo),
		}},
	}
	if current != nil && current.Email != patch.Email {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey(fieldPhoneNo, emailGuardPrefix+current.Email),
			ConditionExpression:       aws.String("attribute_not_exists(#pk) OR #owner = :owner"),
			ExpressionAttributeNames:  guardNames(),
			ExpressionAttributeValues: guardValues(patch.PhoneNo),
		}})
	}
	return &dynamodb.TransactWriteItemsInput{TransactItems: items}, nil
}

func guardNames() map[string]string {
	return map[string]string{"#pk": fieldPhoneNo, "#owner": fieldGuardOwner}
}

func guardValues(phoneNo string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: phoneNo}}
}

// upsertError maps cancellation reasons of the registration transaction to
// domain errors. Reasons are positional, matching upsertInput.
func upsertError(patch domain.RegistrationPatch, err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("upsert user: %w", err)
	}
	failed := func(i int) bool {
		return i < len(tce.CancellationReasons) &&
			aws.ToString(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
	}
	switch {
	case failed(0) && failed(1):
		return fmt.Errorf("phone %s and email %s are taken: %w", patch.PhoneNo, patch.Email, domain.ErrDuplicateIdentity)
	case failed(1):
		return fmt.Errorf("email %s belongs to another user: %w", patch.Email, domain.ErrEmailTaken)
	case failed(0), failed(2):
		return fmt.Errorf("phone %s changed during registration: %w", patch.PhoneNo, domain.ErrConflict)
	}
	return fmt.Errorf("upsert user: %w", err)
}

// MarkVerified sets is_verified and removes the OTP fields, provided the record
// is still unverified and still holds code. On a lost race the stored item
// decides the error: ErrAlreadyVerified, ErrInvalidOTP or ErrNotFound.
func (r *UserRepo) MarkVerified(ctx context.Context, phoneNo, code string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIsVerified: true,
		fieldUpdatedAt:  r.clock.Now(),
	})
	if err != nil {
		return err
	}
	ue.Names["#pk"] = fieldPhoneNo
	ue.Names["#verified"] = fieldIsVerified
	ue.Names["#otp"] = fieldOTP
	ue.Names["#otpExpiry"] = fieldOTPExpiry
	ue.Values[":unverified"] = &types.AttributeValueMemberBOOL{Value: false}
	ue.Values[":code"] = &types.AttributeValueMemberS{Value: code}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 strKey(fieldPhoneNo, phoneNo),
		UpdateExpression:                    aws.String(ue.Expr + " REMOVE #otp, #otpExpiry"),
		ConditionExpression:                 aws.String("attribute_exists(#pk) AND #verified = :unverified AND #otp = :code"),
		ExpressionAttributeNames:            ue.Names,
		ExpressionAttributeValues:           ue.Values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return verifyConflict(ccf.Item)
		}
		return fmt.Errorf("mark user verified: %w", err)
	}
	return nil
}

func verifyConflict(item map[string]types.AttributeValue) error {
	if len(item) == 0 {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(item, &u); err != nil {
		return fmt.Errorf("unmarshal user: %w", err)
	}
	if u.IsVerified {
		return fmt.Errorf("phone %s: %w", u.PhoneNo, domain.ErrAlreadyVerified)
	}
	return fmt.Errorf("phone %s: otp replaced: %w", u.PhoneNo, domain.ErrInvalidOTP)
}

// Ping checks that the users table is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.tableName)})
	return err
}

func (r *UserRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.User, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}
