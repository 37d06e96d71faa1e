package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-otp-auth/internal/domain"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
	"github.com/go-otp-auth/internal/pkg/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory user store keyed by phone number.
type memStore struct {
	mu     sync.Mutex
	byPh   map[string]*domain.User
	nextID int
	writes int
	now    func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{byPh: map[string]*domain.User{}, now: now}
}

func (s *memStore) copyOf(u *domain.User) *domain.User {
	c := *u
	return &c
}

func (s *memStore) FindByEmailOrPhone(ctx context.Context, email, phoneNo string) (*domain.User, error) {
	if u, err := s.GetByPhone(ctx, phoneNo); err == nil {
		return u, nil
	}
	return s.GetByEmail(ctx, email)
}

func (s *memStore) GetByPhone(_ context.Context, phoneNo string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byPh[phoneNo]; ok {
		return s.copyOf(u), nil
	}
	return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byPh {
		if u.Email == email {
			return s.copyOf(u), nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
}

func (s *memStore) UpsertByPhone(_ context.Context, p domain.RegistrationPatch) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u, ok := s.byPh[p.PhoneNo]
	phoneHeld := ok && u.IsVerified
	emailHeld := false
	for phone, other := range s.byPh {
		if phone != p.PhoneNo && other.Email == p.Email {
			emailHeld = true
		}
	}
	switch {
	case phoneHeld && emailHeld:
		return nil, fmt.Errorf("both held: %w", domain.ErrDuplicateIdentity)
	case emailHeld:
		return nil, fmt.Errorf("email held: %w", domain.ErrEmailTaken)
	case phoneHeld:
		return nil, fmt.Errorf("verified: %w", domain.ErrConflict)
	}
	if !ok {
		s.nextID++
		u = &domain.User{UserID: fmt.Sprintf("u%d", s.nextID), PhoneNo: p.PhoneNo, CreatedAt: now}
		s.byPh[p.PhoneNo] = u
	}
	code, exp := p.OTP, p.OTPExpiry
	u.FirstName, u.LastName, u.Email, u.DateOfBirth = p.FirstName, p.LastName, p.Email, p.DateOfBirth
	u.PasswordHash, u.OTP, u.OTPExpiry, u.IsVerified, u.UpdatedAt = p.PasswordHash, &code, &exp, false, now
	s.writes++
	return s.copyOf(u), nil
}

func (s *memStore) MarkVerified(_ context.Context, phoneNo, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byPh[phoneNo]
	switch {
	case !ok:
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	case u.IsVerified:
		return fmt.Errorf("verified: %w", domain.ErrAlreadyVerified)
	case u.OTP == nil || *u.OTP != code:
		return fmt.Errorf("code replaced: %w", domain.ErrInvalidOTP)
	}
	u.MarkVerified(s.now())
	s.writes++
	return nil
}

// barrierStore parks the gated read until n callers have made it, so the
// writes that follow run against the same snapshot.
type barrierStore struct {
	*memStore
	gated string
	gate  sync.WaitGroup
}

func newBarrierStore(m *memStore, gated string, n int) *barrierStore {
	b := &barrierStore{memStore: m, gated: gated}
	b.gate.Add(n)
	return b
}

func (b *barrierStore) wait(op string) {
	if op == b.gated {
		b.gate.Done()
		b.gate.Wait()
	}
}

func (b *barrierStore) FindByEmailOrPhone(ctx context.Context, email, phoneNo string) (*domain.User, error) {
	u, err := b.memStore.FindByEmailOrPhone(ctx, email, phoneNo)
	b.wait("find")
	return u, err
}

func (b *barrierStore) GetByPhone(ctx context.Context, phoneNo string) (*domain.User, error) {
	u, err := b.memStore.GetByPhone(ctx, phoneNo)
	b.wait("phone")
	return u, err
}

// recordingSMS remembers the last code texted to each number.
type recordingSMS struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

var codePattern = regexp.MustCompile(`[0-9]{6}`)

func (r *recordingSMS) SendSMS(_ context.Context, to, msg string) error {
	if r.fail {
		return fmt.Errorf("carrier rejected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[to] = codePattern.FindString(msg)
	return nil
}

type harness struct {
	now    time.Time
	store  *memStore
	sms    *recordingSMS
	tokens *jwtinfra.Provider
	svc    Service
}

func (h *harness) Now() time.Time { return h.now }

func newHarness(t *testing.T, pending bool) *harness {
	t.Helper()
	return newHarnessWith(t, pending, nil)
}

// newHarnessWith lets wrap interpose on the store the service sees.
func newHarnessWith(t *testing.T, pending bool, wrap func(*memStore) userStore) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}
	h.store = newMemStore(h.Now)
	var users userStore = h.store
	if wrap != nil {
		users = wrap(h.store)
	}
	h.sms = &recordingSMS{codes: map[string]string{}}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	h.tokens = jwtinfra.NewProviderFromKeys(key, &key.PublicKey, h, nil)
	h.svc = NewService(ServiceDeps{
		UserRepo:              users,
		SMSSender:             h.sms,
		Hasher:                password.NewHasher(bcrypt.MinCost),
		TokenIssuer:           h.tokens,
		Clock:                 h,
		PendingReregistration: pending,
	})
	return h
}

func input(phone, email string) RegisterInput {
	return RegisterInput{
		FirstName: "Asha", LastName: "Rao", Email: email, PhoneNo: phone,
		DateOfBirth: time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC), Password: "secret1",
	}
}

func wrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}

func TestLifecycle_RegisterVerifyLogin(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	u, err := h.svc.Register(ctx, input("9998887776", "a@x.com"))
	require.NoError(t, err)

	stored, err := h.store.GetByPhone(ctx, "9998887776")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	require.NotNil(t, stored.OTP)
	assert.Regexp(t, `^[0-9]{6}$`, *stored.OTP)
	assert.True(t, stored.OTPExpiry.After(stored.CreatedAt))
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	code := h.sms.codes["9998887776"]
	assert.Equal(t, *stored.OTP, code)

	assert.ErrorIs(t, h.svc.VerifyOTP(ctx, "9998887776", wrongCode(code)), domain.ErrInvalidOTP)

	_, err = h.svc.Login(ctx, "a@x.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrNotVerified)

	require.NoError(t, h.svc.VerifyOTP(ctx, "9998887776", code))
	stored, err = h.store.GetByPhone(ctx, "9998887776")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.OTP)
	assert.Nil(t, stored.OTPExpiry)

	assert.ErrorIs(t, h.svc.VerifyOTP(ctx, "9998887776", code), domain.ErrAlreadyVerified)

	token, err := h.svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	claims, err := h.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.UserID, claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, time.Hour, claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time))
	assert.True(t, h.now.Equal(claims.IssuedAt.Time))

	_, err = h.svc.Login(ctx, "a@x.com", "secret2")
	assert.ErrorIs(t, err, domain.ErrInvalidPassword)
}

func TestLifecycle_CorrectCodeAfterExpiry(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, input("9998887776", "a@x.com"))
	require.NoError(t, err)
	code := h.sms.codes["9998887776"]

	h.now = h.now.Add(3*time.Minute + time.Second)
	assert.ErrorIs(t, h.svc.VerifyOTP(ctx, "9998887776", code), domain.ErrOTPExpired)
	assert.ErrorIs(t, h.svc.VerifyOTP(ctx, "9998887776", wrongCode(code)), domain.ErrInvalidOTP)
}

func TestLifecycle_DistinctPhonesOneRecordEach(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	phones := []string{"9000000001", "9000000002", "9000000003", "9000000004"}
	var wg sync.WaitGroup
	for i, p := range phones {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, err := h.svc.Register(ctx, input(p, fmt.Sprintf("user%d@x.com", i)))
			assert.NoError(t, err)
		}(i, p)
	}
	wg.Wait()

	require.Len(t, h.store.byPh, len(phones))
	for _, p := range phones {
		u := h.store.byPh[p]
		assert.False(t, u.IsVerified)
		assert.Regexp(t, `^[0-9]{6}$`, *u.OTP)
		assert.True(t, u.OTPExpiry.After(u.CreatedAt))
	}
}

func TestLifecycle_DuplicateAgainstDifferentRecordWritesNothing(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, input("9998887776", "a@x.com"))
	require.NoError(t, err)
	writes := h.store.writes

	_, err = h.svc.Register(ctx, input("1112223334", "a@x.com"))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	_, err = h.svc.Register(ctx, input("9998887776", "b@x.com"))
	assert.ErrorIs(t, err, domain.ErrPhoneTaken)
	_, err = h.svc.Register(ctx, input("9998887776", "a@x.com"))
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)

	assert.Equal(t, writes, h.store.writes)
	assert.Len(t, h.store.byPh, 1)
}

func TestLifecycle_PendingReregistrationOverwrites(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	first, err := h.svc.Register(ctx, input("9998887776", "a@x.com"))
	require.NoError(t, err)
	firstCode := h.sms.codes["9998887776"]

	h.now = h.now.Add(time.Minute)
	second, err := h.svc.Register(ctx, input("9998887776", "new@x.com"))
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Len(t, h.store.byPh, 1)
	stored := h.store.byPh["9998887776"]
	assert.Equal(t, "new@x.com", stored.Email)
	assert.Equal(t, h.sms.codes["9998887776"], *stored.OTP)
	assert.True(t, stored.OTPExpiry.Equal(h.now.Add(3*time.Minute)))

	if firstCode != *stored.OTP {
		assert.ErrorIs(t, h.svc.VerifyOTP(ctx, "9998887776", firstCode), domain.ErrInvalidOTP)
	}
}

func TestLifecycle_DeliveryFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t, false)
	h.sms.fail = true

	_, err := h.svc.Register(context.Background(), input("9998887776", "a@x.com"))
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Empty(t, h.store.byPh)
	assert.Zero(t, h.store.writes)
}

func TestLifecycle_ConcurrentSameEmailOneWins(t *testing.T) {
	h := newHarnessWith(t, false, func(m *memStore) userStore { return newBarrierStore(m, "find", 2) })
	ctx := context.Background()

	phones := []string{"9000000001", "9000000002"}
	errs := make([]error, len(phones))
	var wg sync.WaitGroup
	for i, p := range phones {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, errs[i] = h.svc.Register(ctx, input(p, "same@x.com"))
		}(i, p)
	}
	wg.Wait()

	var ok, taken int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrEmailTaken):
			taken++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, taken)

	holders := 0
	for _, u := range h.store.byPh {
		if u.Email == "same@x.com" {
			holders++
		}
	}
	assert.Equal(t, 1, holders)
}

func TestLifecycle_ConcurrentVerifyOnlyOneWrites(t *testing.T) {
	h := newHarnessWith(t, false, func(m *memStore) userStore { return newBarrierStore(m, "phone", 2) })
	ctx := context.Background()

	_, err := h.svc.Register(ctx, input("9998887776", "a@x.com"))
	require.NoError(t, err)
	code := h.sms.codes["9998887776"]
	writes := h.store.writes

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.svc.VerifyOTP(ctx, "9998887776", code)
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyVerified):
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, already)
	assert.Equal(t, writes+1, h.store.writes)
}
