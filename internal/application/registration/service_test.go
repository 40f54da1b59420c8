package registration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agrisense-api/internal/domain"
	"github.com/agrisense-api/internal/infrastructure/memory"
	"github.com/agrisense-api/internal/metrics"
	"github.com/agrisense-api/internal/pkg/password"
	"github.com/agrisense-api/internal/pkg/throttle"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockMailer struct {
	mock.Mock
	codes map[string]string
}

func (m *mockMailer) SendVerificationCode(ctx context.Context, to, firstName, code string, ttl time.Duration) error {
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	return m.Called(ctx, to, firstName, code, ttl).Error(0)
}

type mockSMS struct{ mock.Mock }

func (m *mockSMS) SendSMS(ctx context.Context, to, message string) error {
	return m.Called(ctx, to, message).Error(0)
}

type mockCooldown struct{ mock.Mock }

func (m *mockCooldown) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockCooldown) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type failingPending struct {
	*memory.PendingRepo
	putErr    error
	updateErr error
	gets      int
}

func (f *failingPending) Get(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	f.gets++
	return f.PendingRepo.Get(ctx, email)
}

func (f *failingPending) UpdateOTP(ctx context.Context, email, code string, expiry, now time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.PendingRepo.UpdateOTP(ctx, email, code, expiry, now)
}

func (f *failingPending) Put(ctx context.Context, p *domain.PendingRegistration) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.PendingRepo.Put(ctx, p)
}

// --- helpers ---

type fixture struct {
	svc    Service
	store  *memory.Store
	mailer *mockMailer
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T, mutate ...func(*ServiceDeps)) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		mailer: &mockMailer{},
		now:    time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	deps := ServiceDeps{
		PendingRepo: f.store.Pending(),
		UserRepo:    f.store.Users(),
		Mailer:      f.mailer,
		Hasher:      password.NewHasher(bcrypt.MinCost),
		Now:         func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&deps)
	}
	f.svc = NewService(deps)
	return f
}

func registerReq(email string) domain.RegisterRequest {
	return domain.RegisterRequest{Email: email, Password: "Test123456", FirstName: "Alice", LastName: "Farmer"}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// --- tests ---

func TestIssueThenVerify_CreatesExactlyOneAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeSuccess))

	res, err := f.svc.Issue(ctx, registerReq("carol@example.com"))
	require.NoError(t, err)
	assert.True(t, res.EmailSent)

	u, err := f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "carol@example.com", OTP: f.mailer.codes["carol@example.com"]})
	require.NoError(t, err)
	assert.True(t, u.Verified)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.NotEmpty(t, u.UserID)
	assert.NotEmpty(t, u.PasswordHash)

	assert.Equal(t, 1, f.store.Users().Count())
	assert.Equal(t, 0, f.store.Pending().Count())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestIssue_PendingRecordShape(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Issue(context.Background(), registerReq("alice@example.com"))
	require.NoError(t, err)

	p := res.Pending
	assert.Regexp(t, `^[0-9]{6}$`, p.OTPCode)
	assert.Equal(t, p.CreatedAt.Add(10*time.Minute), p.OTPExpiry)
	assert.Equal(t, f.now, p.CreatedAt)

	ok, err := password.NewHasher(bcrypt.MinCost).Compare(p.PasswordHash, "Test123456")
	require.NoError(t, err)
	assert.True(t, ok)
	f.mailer.AssertCalled(t, "SendVerificationCode", mock.Anything, "alice@example.com", "Alice", p.OTPCode, 10*time.Minute)
}

func TestAliceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, registerReq("alice@example.com"))
	require.NoError(t, err)
	code := f.mailer.codes["alice@example.com"]

	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "alice@example.com", OTP: wrongCode(code)})
	assert.ErrorIs(t, err, domain.ErrMismatch)

	f.advance(9 * time.Minute)
	u, err := f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "alice@example.com", OTP: code})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "alice@example.com", OTP: code})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerify_ExpiredNeverSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("late@example.com"))
	require.NoError(t, err)
	code := f.mailer.codes["late@example.com"]

	f.advance(10*time.Minute + time.Second)
	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "late@example.com", OTP: code})
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, 0, f.store.Users().Count())
	assert.Equal(t, 1, f.store.Pending().Count())
}

func TestVerify_ValidAtExactExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("edge@example.com"))
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "edge@example.com", OTP: f.mailer.codes["edge@example.com"]})
	assert.NoError(t, err)
}

func TestVerify_UnknownEmailIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), domain.VerifyEmailRequest{Email: "nobody@example.com", OTP: "123456"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerify_RejectsMalformedCode(t *testing.T) {
	pending := &failingPending{PendingRepo: memory.New().Pending()}
	f := newFixture(t, func(d *ServiceDeps) { d.PendingRepo = pending })

	for _, code := range []string{"12ab56", "-12345", "+12345", "1.2345", "12345", "1234567"} {
		_, err := f.svc.Verify(context.Background(), domain.VerifyEmailRequest{Email: "nobody@example.com", OTP: code})
		assert.ErrorIs(t, err, domain.ErrValidation, code)
	}
	assert.Zero(t, pending.gets, "malformed codes must not reach the store")
}

func TestIssue_ConflictForExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Users().Create(ctx, &domain.User{UserID: "01H", Email: "taken@example.com", Verified: true}))

	_, err := f.svc.Issue(ctx, registerReq("Taken@Example.com"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 0, f.store.Pending().Count())
}

func TestIssue_DuplicateOverwritesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, registerReq("dup@example.com"))
	require.NoError(t, err)
	firstCode := first.Pending.OTPCode

	f.advance(3 * time.Minute)
	second, err := f.svc.Issue(ctx, registerReq("dup@example.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.Pending().Count())
	assert.Equal(t, f.now.Add(10*time.Minute), second.Pending.OTPExpiry)
	if firstCode != second.Pending.OTPCode {
		_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "dup@example.com", OTP: firstCode})
		assert.ErrorIs(t, err, domain.ErrMismatch)
	}
	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "dup@example.com", OTP: second.Pending.OTPCode})
	assert.NoError(t, err)
}

func TestIssue_NormalisesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Issue(ctx, registerReq("  Mixed.Case@Example.COM "))
	require.NoError(t, err)
	assert.Equal(t, "mixed.case@example.com", res.Pending.Email)

	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "MIXED.case@example.com", OTP: res.Pending.OTPCode})
	assert.NoError(t, err)
}

func TestIssue_ValidationError(t *testing.T) {
	f := newFixture(t)
	req := registerReq("not-an-email")
	_, err := f.svc.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req = registerReq("a@example.com")
	req.Password = "short"
	_, err = f.svc.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIssue_MultiBytePasswordOverBcryptLimit(t *testing.T) {
	f := newFixture(t)
	req := registerReq("accent@example.com")
	req.Password = strings.Repeat("é", 40)

	_, err := f.svc.Issue(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.store.Pending().Count())
}

func TestIssue_DeliveryFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.mailer.ExpectedCalls = nil
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: connection refused"))
	before := testutil.ToFloat64(metrics.DeliveryFailuresTotal.WithLabelValues(metrics.ChannelEmail))

	res, err := f.svc.Issue(context.Background(), registerReq("offline@example.com"))
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
	assert.ErrorIs(t, res.DeliveryErr, domain.ErrDependency)
	assert.Equal(t, 1, f.store.Pending().Count())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DeliveryFailuresTotal.WithLabelValues(metrics.ChannelEmail)))
}

func TestIssue_StoreFailureIsDependencyError(t *testing.T) {
	f := newFixture(t, func(d *ServiceDeps) {
		d.PendingRepo = &failingPending{PendingRepo: memory.New().Pending(), putErr: errors.New("connection reset")}
	})
	_, err := f.svc.Issue(context.Background(), registerReq("a@example.com"))
	assert.ErrorIs(t, err, domain.ErrDependency)
	f.mailer.AssertNotCalled(t, "SendVerificationCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIssue_SendsSMSWhenPhonePresent(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+254700000000", mock.AnythingOfType("string")).Return(nil).Once()
	f := newFixture(t, func(d *ServiceDeps) { d.SMSSender = sms })

	req := registerReq("phone@example.com")
	phone := "+254700000000"
	req.Phone = &phone
	_, err := f.svc.Issue(context.Background(), req)
	require.NoError(t, err)
	sms.AssertExpectations(t)
}

func TestResend_UnknownEmailIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Resend(context.Background(), domain.ResendOTPRequest{Email: "ghost@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResend_RegeneratesCodeAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("re@example.com"))
	require.NoError(t, err)

	f.advance(8 * time.Minute)
	res, err := f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "re@example.com"})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(10*time.Minute), res.Pending.OTPExpiry)

	stored, err := f.store.Pending().Get(ctx, "re@example.com")
	require.NoError(t, err)
	assert.Equal(t, res.Pending.OTPCode, stored.OTPCode)
	assert.Equal(t, res.Pending.OTPExpiry, stored.OTPExpiry)

	// the original expiry has passed but the resent code is still valid
	f.advance(5 * time.Minute)
	_, err = f.svc.Verify(ctx, domain.VerifyEmailRequest{Email: "re@example.com", OTP: res.Pending.OTPCode})
	assert.NoError(t, err)
}

func TestResend_Cooldown(t *testing.T) {
	f := newFixture(t, func(d *ServiceDeps) { d.Cooldown = throttle.NewCooldown(time.Minute) })
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("spam@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "spam@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "spam@example.com"})
	assert.ErrorIs(t, err, domain.ErrTooManyRequests)
}

func TestResend_CooldownFailureFailsOpen(t *testing.T) {
	cd := &mockCooldown{}
	cd.On("Allow", mock.Anything, "otp-resend:open@example.com").Return(false, errors.New("redis down"))
	f := newFixture(t, func(d *ServiceDeps) { d.Cooldown = cd })
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("open@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "open@example.com"})
	assert.NoError(t, err)
	cd.AssertExpectations(t)
}

func TestResend_StoreFailureReleasesCooldown(t *testing.T) {
	store := memory.New()
	pending := &failingPending{PendingRepo: store.Pending()}
	f := newFixture(t, func(d *ServiceDeps) {
		d.PendingRepo = pending
		d.Cooldown = throttle.NewCooldown(time.Minute)
	})
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, registerReq("flaky@example.com"))
	require.NoError(t, err)

	pending.updateErr = errors.New("connection reset")
	_, err = f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "flaky@example.com"})
	assert.ErrorIs(t, err, domain.ErrDependency)

	pending.updateErr = nil
	res, err := f.svc.Resend(ctx, domain.ResendOTPRequest{Email: "flaky@example.com"})
	require.NoError(t, err)
	assert.True(t, res.EmailSent)
}
