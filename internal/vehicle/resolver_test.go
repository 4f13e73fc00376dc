package vehicle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/repository"
)

const testVIN = "1FA6P8CF0F5391308"

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// --- モック定義 ---

type mockVehicleStore struct {
	findFn   func(ctx context.Context, vin string) (*model.Vehicle, error)
	createFn func(ctx context.Context, v *model.Vehicle) error
	updateFn func(ctx context.Context, vin string, mileage int, at time.Time) error

	findCalls []string
	created   []model.Vehicle
}

func (m *mockVehicleStore) FindByVIN(ctx context.Context, vin string) (*model.Vehicle, error) {
	m.findCalls = append(m.findCalls, vin)
	if m.findFn != nil {
		return m.findFn(ctx, vin)
	}
	return nil, nil
}

func (m *mockVehicleStore) Create(ctx context.Context, v *model.Vehicle) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, v); err != nil {
			return err
		}
	}
	m.created = append(m.created, *v)
	return nil
}

func (m *mockVehicleStore) UpdateMileage(ctx context.Context, vin string, mileage int, at time.Time) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, vin, mileage, at)
	}
	return nil
}

type mockDecoder struct {
	decodeFn  func(ctx context.Context, vin string) (*model.VehicleInfo, error)
	recallsFn func(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo)

	decodeCalls  int
	recallsCalls []string
}

func (m *mockDecoder) DecodeVIN(ctx context.Context, vin string) (*model.VehicleInfo, error) {
	m.decodeCalls++
	if m.decodeFn != nil {
		return m.decodeFn(ctx, vin)
	}
	return nil, nil
}

func (m *mockDecoder) RecallsByVIN(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
	m.recallsCalls = append(m.recallsCalls, vin)
	if m.recallsFn != nil {
		return m.recallsFn(ctx, vin)
	}
	return nil, []model.RecallInfo{}
}

type appendedMessage struct {
	sessionID string
	role      model.Role
	content   string
	metadata  map[string]any
}

type mockLinker struct {
	linkErr   error
	appendErr error

	links    []string
	messages []appendedMessage
}

func (m *mockLinker) LinkVehicle(ctx context.Context, sessionID, vin string) error {
	m.links = append(m.links, sessionID+"="+vin)
	return m.linkErr
}

func (m *mockLinker) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]any) error {
	m.messages = append(m.messages, appendedMessage{sessionID, role, content, metadata})
	return m.appendErr
}

func storedMustang() *model.Vehicle {
	return &model.Vehicle{
		VIN:       testVIN,
		Make:      "Ford",
		Model:     "Mustang",
		Year:      2015,
		Mileage:   42000,
		OwnerName: "Jane Doe",
	}
}

func decodedMustang(ctx context.Context, vin string) (*model.VehicleInfo, error) {
	return &model.VehicleInfo{Make: "FORD", Model: "Mustang", Year: 2015, VehicleType: "PASSENGER CAR", PlantCountry: "UNITED STATES (USA)"}, nil
}

type fixture struct {
	store    *mockVehicleStore
	decoder  *mockDecoder
	linker   *mockLinker
	resolver *Resolver
	logs     *bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		store:   &mockVehicleStore{},
		decoder: &mockDecoder{},
		linker:  &mockLinker{},
		logs:    &bytes.Buffer{},
	}
	f.resolver = NewResolver(f.store, f.decoder, f.linker, newTestLogger(f.logs))
	f.resolver.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return f
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError(%s)", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}

// --- LookupByVIN ---

func TestLookupByVIN_Found(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	f.resolver.BindSession("s1")

	msg, err := f.resolver.LookupByVIN(context.Background(), testVIN)
	if err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	want := "I found your 2015 Ford Mustang, registered to Jane Doe, with 42000 miles on record. How can I help you with it today?"
	if msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
	if f.resolver.State() != StateIdentified || !f.resolver.HasVehicle() {
		t.Errorf("State = %s, want identified", f.resolver.State())
	}
	if diff := cmp.Diff([]string{"s1=" + testVIN}, f.linker.links); diff != "" {
		t.Errorf("セッション紐付け mismatch (-want +got):\n%s", diff)
	}
	if f.decoder.decodeCalls != 0 {
		t.Errorf("登録済みの車両でデコードが呼ばれた: %d", f.decoder.decodeCalls)
	}
}

func TestLookupByVIN_FoundWithoutOwner(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		v := storedMustang()
		v.OwnerName = ""
		return v, nil
	}

	msg, err := f.resolver.LookupByVIN(context.Background(), testVIN)
	if err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	want := "I found your 2015 Ford Mustang with 42000 miles on record. How can I help you with it today?"
	if msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
	if len(f.linker.links) != 0 {
		t.Errorf("セッション未設定で紐付けが呼ばれた: %v", f.linker.links)
	}
}

func TestLookupByVIN_NormalizesVIN(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		if vin == testVIN {
			return storedMustang(), nil
		}
		return nil, nil
	}

	for _, input := range []string{"1fa 6p8-cf0f5391308", testVIN, " 1FA6P8CF0F5391308\n"} {
		f.resolver.Reset()
		if _, err := f.resolver.LookupByVIN(context.Background(), input); err != nil {
			t.Errorf("LookupByVIN(%q) がエラーを返した: %v", input, err)
		}
		if !f.resolver.HasVehicle() {
			t.Errorf("LookupByVIN(%q) で車両が特定されない", input)
		}
	}
	for _, vin := range f.store.findCalls {
		if vin != testVIN {
			t.Errorf("正規化されていないVINで検索した: %q", vin)
		}
	}
}

func TestLookupByVIN_DecodedBecomesPending(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = decodedMustang

	msg, err := f.resolver.LookupByVIN(context.Background(), testVIN)
	if err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	want := "I decoded VIN 1FA6P8CF0F5391308 as a 2015 FORD Mustang, but I don't have a profile for it yet. " +
		"Would you like me to create one? I'll just need the owner's name and the current mileage."
	if msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
	if f.resolver.State() != StatePendingDecode {
		t.Errorf("State = %s, want pending_decode", f.resolver.State())
	}
	if f.resolver.HasVehicle() {
		t.Error("未登録車両でHasVehicleがtrueになった")
	}

	pending, ok := f.resolver.Pending()
	if !ok {
		t.Fatal("未登録車両が保持されていない")
	}
	if diff := cmp.Diff(model.PendingVehicle{VIN: testVIN, Make: "FORD", Model: "Mustang", Year: 2015}, pending); diff != "" {
		t.Errorf("PendingVehicle mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupByVIN_NotFoundKeepsState(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.LookupByVIN(context.Background(), "INVALIDVIN")
	assertAPIErrorCode(t, err, model.ErrCodeVehicleNotFound)

	if f.resolver.State() != StateUnresolved {
		t.Errorf("State = %s, want unresolved", f.resolver.State())
	}
}

func TestLookupByVIN_EmptyVIN(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.LookupByVIN(context.Background(), " - ")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidArgument)

	if len(f.store.findCalls) != 0 {
		t.Errorf("空のVINで検索した: %v", f.store.findCalls)
	}
}

func TestLookupByVIN_StorageError(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.resolver.LookupByVIN(context.Background(), testVIN)
	assertAPIErrorCode(t, err, model.ErrCodeStorageUnavailable)

	if f.decoder.decodeCalls != 0 {
		t.Error("検索失敗時にデコードが呼ばれた")
	}
}

func TestLookupByVIN_CancelledDecodeKeepsState(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = func(ctx context.Context, vin string) (*model.VehicleInfo, error) {
		return nil, context.Canceled
	}

	_, err := f.resolver.LookupByVIN(context.Background(), testVIN)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if f.resolver.State() != StateUnresolved {
		t.Errorf("State = %s, want unresolved", f.resolver.State())
	}
}

func TestLookupByVIN_FoundClearsPending(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = decodedMustang

	if _, err := f.resolver.LookupByVIN(context.Background(), "2HGFC2F59JH000001"); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	if _, ok := f.resolver.Pending(); ok {
		t.Error("特定後も未登録車両が残っている")
	}
	if f.resolver.State() != StateIdentified {
		t.Errorf("State = %s, want identified", f.resolver.State())
	}
}

func TestLookupByVIN_LinkFailureDoesNotUndoBinding(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	f.linker.linkErr = errors.New("connection reset")
	f.resolver.BindSession("s1")

	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}
	if !f.resolver.HasVehicle() {
		t.Error("紐付け失敗で車両の特定が取り消された")
	}
}

// --- CreateProfile ---

func TestCreateProfile_FillsFromPending(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = decodedMustang
	f.resolver.BindSession("s1")

	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	msg, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		OwnerName: "  Jane Doe ",
		Mileage:   42000,
	})
	if err != nil {
		t.Fatalf("CreateProfile がエラーを返した: %v", err)
	}

	if msg != "Your profile for the 2015 FORD Mustang has been created." {
		t.Errorf("msg = %q", msg)
	}
	if f.resolver.State() != StateIdentified {
		t.Errorf("State = %s, want identified", f.resolver.State())
	}
	if _, ok := f.resolver.Pending(); ok {
		t.Error("作成後も未登録車両が残っている")
	}

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	want := model.Vehicle{
		VIN:       testVIN,
		Make:      "FORD",
		Model:     "Mustang",
		Year:      2015,
		Mileage:   42000,
		OwnerName: "Jane Doe",
		CreatedAt: at,
		UpdatedAt: at,
	}
	if diff := cmp.Diff([]model.Vehicle{want}, f.store.created); diff != "" {
		t.Errorf("作成された車両 mismatch (-want +got):\n%s", diff)
	}
	current, _ := f.resolver.Current()
	if diff := cmp.Diff(want, current); diff != "" {
		t.Errorf("特定済みの車両 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"s1=" + testVIN}, f.linker.links); diff != "" {
		t.Errorf("セッション紐付け mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateProfile_ExplicitFields(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		VIN:        "2hgfc2f5-9jh000001",
		Make:       "Honda",
		Model:      "Civic",
		Year:       2018,
		OwnerName:  "Sam Lee",
		OwnerPhone: "+15551234567",
	})
	if err != nil {
		t.Fatalf("CreateProfile がエラーを返した: %v", err)
	}
	if len(f.store.created) != 1 || f.store.created[0].VIN != "2HGFC2F59JH000001" {
		t.Errorf("created = %+v", f.store.created)
	}
	if f.store.created[0].OwnerPhone != "+15551234567" {
		t.Errorf("OwnerPhone = %q", f.store.created[0].OwnerPhone)
	}
}

func TestCreateProfile_DifferentVINDoesNotBorrowPending(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = decodedMustang

	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		VIN:       "2HGFC2F59JH000001",
		OwnerName: "Sam Lee",
	})
	assertAPIErrorCode(t, err, model.ErrCodeProfileIncomplete)

	if f.resolver.State() != StatePendingDecode {
		t.Errorf("State = %s, want pending_decode", f.resolver.State())
	}
}

func TestCreateProfile_MissingFields(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{VIN: testVIN, Make: "Ford"})
	assertAPIErrorCode(t, err, model.ErrCodeProfileIncomplete)

	var apiErr *model.APIError
	errors.As(err, &apiErr)
	want := "To create your vehicle profile I still need the following: model, year and owner's name."
	if apiErr.Message != want {
		t.Errorf("Message = %q, want %q", apiErr.Message, want)
	}
	if len(f.store.created) != 0 || f.resolver.State() != StateUnresolved {
		t.Error("不足項目がある場合に状態が変化した")
	}
}

func TestCreateProfile_NegativeMileage(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		VIN: testVIN, Make: "Ford", Model: "Mustang", Year: 2015, OwnerName: "Jane", Mileage: -1,
	})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidArgument)
}

func TestCreateProfile_DuplicateVINKeepsBoundVehicle(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}
	before, _ := f.resolver.Current()

	f.store.createFn = func(ctx context.Context, v *model.Vehicle) error {
		return fmt.Errorf("failed to create vehicle: %w", repository.ErrDuplicateKey)
	}
	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		VIN: "2HGFC2F59JH000001", Make: "Honda", Model: "Civic", Year: 2018, OwnerName: "Sam",
	})
	assertAPIErrorCode(t, err, model.ErrCodeVehicleConflict)

	after, ok := f.resolver.Current()
	if !ok {
		t.Fatal("重複エラーで車両の特定が外れた")
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("特定済みの車両が変化した (-before +after):\n%s", diff)
	}
}

func TestCreateProfile_StorageError(t *testing.T) {
	f := newFixture()
	f.store.createFn = func(ctx context.Context, v *model.Vehicle) error {
		return errors.New("disk full")
	}

	_, err := f.resolver.CreateProfile(context.Background(), ProfileInput{
		VIN: testVIN, Make: "Ford", Model: "Mustang", Year: 2015, OwnerName: "Jane",
	})
	assertAPIErrorCode(t, err, model.ErrCodeStorageUnavailable)

	if f.resolver.State() != StateUnresolved {
		t.Errorf("State = %s, want unresolved", f.resolver.State())
	}
}

// --- UpdateMileage ---

func TestUpdateMileage_RequiresVehicle(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.UpdateMileage(context.Background(), 50000)
	assertAPIErrorCode(t, err, model.ErrCodeVehicleRequired)
}

func TestUpdateMileage_Success(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	var gotVIN string
	var gotMileage int
	f.store.updateFn = func(ctx context.Context, vin string, mileage int, at time.Time) error {
		gotVIN, gotMileage = vin, mileage
		return nil
	}

	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	msg, err := f.resolver.UpdateMileage(context.Background(), 51000)
	if err != nil {
		t.Fatalf("UpdateMileage がエラーを返した: %v", err)
	}
	if msg != "Got it. I've updated the mileage on your 2015 Ford Mustang to 51000 miles." {
		t.Errorf("msg = %q", msg)
	}
	if gotVIN != testVIN || gotMileage != 51000 {
		t.Errorf("UpdateMileage(%q, %d)", gotVIN, gotMileage)
	}

	current, _ := f.resolver.Current()
	if current.Mileage != 51000 {
		t.Errorf("Mileage = %d, want 51000", current.Mileage)
	}
	if !current.UpdatedAt.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", current.UpdatedAt)
	}
}

func TestUpdateMileage_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mileage  int
		updateFn func(ctx context.Context, vin string, mileage int, at time.Time) error
		code     string
	}{
		{"負の走行距離", -5, nil, model.ErrCodeInvalidArgument},
		{"車両が削除されていた", 100, func(ctx context.Context, vin string, mileage int, at time.Time) error {
			return fmt.Errorf("vehicle %s: %w", vin, repository.ErrNotFound)
		}, model.ErrCodeVehicleNotFound},
		{"DBエラー", 100, func(ctx context.Context, vin string, mileage int, at time.Time) error {
			return errors.New("connection refused")
		}, model.ErrCodeStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
				return storedMustang(), nil
			}
			f.store.updateFn = tt.updateFn
			if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
				t.Fatalf("LookupByVIN がエラーを返した: %v", err)
			}

			_, err := f.resolver.UpdateMileage(context.Background(), tt.mileage)
			assertAPIErrorCode(t, err, tt.code)

			current, _ := f.resolver.Current()
			if current.Mileage != 42000 {
				t.Errorf("失敗時に走行距離が変化した: %d", current.Mileage)
			}
		})
	}
}

// --- CheckRecalls ---

func TestCheckRecalls_RequiresVIN(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.CheckRecalls(context.Background(), "")
	assertAPIErrorCode(t, err, model.ErrCodeVINRequired)

	if len(f.decoder.recallsCalls) != 0 {
		t.Error("VINなしでリコール検索が呼ばれた")
	}
}

func TestCheckRecalls_UsesBoundVehicleAndAudits(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	f.decoder.recallsFn = func(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
		return &model.VehicleInfo{Make: "FORD", Model: "Mustang", Year: 2015}, []model.RecallInfo{
			{Component: "AIR BAGS", Summary: "Inflator may rupture."},
		}
	}
	f.resolver.BindSession("s1")
	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	msg, err := f.resolver.CheckRecalls(context.Background(), "")
	if err != nil {
		t.Fatalf("CheckRecalls がエラーを返した: %v", err)
	}

	if msg != "I found 1 recall for your vehicle. Recall 1: AIR BAGS. Inflator may rupture. " {
		t.Errorf("msg = %q", msg)
	}
	if diff := cmp.Diff([]string{testVIN}, f.decoder.recallsCalls); diff != "" {
		t.Errorf("リコール検索のVIN mismatch (-want +got):\n%s", diff)
	}

	want := []appendedMessage{{
		sessionID: "s1",
		role:      model.RoleSystem,
		content:   "Recall check for VIN 1FA6P8CF0F5391308: 1 recall(s) found",
		metadata:  map[string]any{"event": "recall_check", "vin": testVIN, "recall_count": 1},
	}}
	if diff := cmp.Diff(want, f.linker.messages, cmp.AllowUnexported(appendedMessage{})); diff != "" {
		t.Errorf("監査ログ mismatch (-want +got):\n%s", diff)
	}
	if f.resolver.State() != StateIdentified {
		t.Errorf("State = %s, want identified", f.resolver.State())
	}
}

func TestCheckRecalls_ExplicitVINWithoutSession(t *testing.T) {
	f := newFixture()
	f.decoder.recallsFn = func(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
		return &model.VehicleInfo{Make: "FORD"}, []model.RecallInfo{}
	}

	msg, err := f.resolver.CheckRecalls(context.Background(), "1fa6p8cf0f 5391308")
	if err != nil {
		t.Fatalf("CheckRecalls がエラーを返した: %v", err)
	}
	if msg != "Great news! I found no open recalls for your vehicle." {
		t.Errorf("msg = %q", msg)
	}
	if f.decoder.recallsCalls[0] != testVIN {
		t.Errorf("正規化されていないVINでリコール検索した: %q", f.decoder.recallsCalls[0])
	}
	if len(f.linker.messages) != 0 {
		t.Error("セッションなしで監査ログが記録された")
	}
	if f.resolver.State() != StateUnresolved {
		t.Errorf("State = %s, want unresolved", f.resolver.State())
	}
}

func TestCheckRecalls_DecodeFailure(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.CheckRecalls(context.Background(), testVIN)
	assertAPIErrorCode(t, err, model.ErrCodeVehicleNotFound)
}

func TestCheckRecalls_AuditFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.decoder.recallsFn = func(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
		return &model.VehicleInfo{Make: "FORD"}, []model.RecallInfo{}
	}
	f.linker.appendErr = errors.New("connection refused")
	f.resolver.BindSession("s1")

	if _, err := f.resolver.CheckRecalls(context.Background(), testVIN); err != nil {
		t.Errorf("監査ログの失敗でエラーが返った: %v", err)
	}
}

// --- Details / BindSession / Reset / Restore ---

func TestDetails(t *testing.T) {
	f := newFixture()

	if got := f.resolver.Details(); got != "vin: \nmake: \nmodel: \nyear: \n" {
		t.Errorf("未特定のDetails = %q", got)
	}

	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	want := "vin: 1FA6P8CF0F5391308\nmake: Ford\nmodel: Mustang\nyear: 2015\n"
	if got := f.resolver.Details(); got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}
}

func TestBindSession_DropsPending(t *testing.T) {
	f := newFixture()
	f.decoder.decodeFn = decodedMustang

	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}
	f.resolver.BindSession("s2")

	if f.resolver.State() != StateUnresolved {
		t.Errorf("State = %s, want unresolved", f.resolver.State())
	}
	if _, ok := f.resolver.Pending(); ok {
		t.Error("セッション再開後も未登録車両が残っている")
	}
	if f.resolver.SessionID() != "s2" {
		t.Errorf("SessionID = %q", f.resolver.SessionID())
	}
}

func TestReset(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		return storedMustang(), nil
	}
	f.resolver.BindSession("s1")
	if _, err := f.resolver.LookupByVIN(context.Background(), testVIN); err != nil {
		t.Fatalf("LookupByVIN がエラーを返した: %v", err)
	}

	f.resolver.Reset()

	if f.resolver.HasVehicle() || f.resolver.SessionID() != "" {
		t.Error("Resetで状態が初期化されていない")
	}
}

func TestRestore(t *testing.T) {
	f := newFixture()
	f.store.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		if vin == testVIN {
			return storedMustang(), nil
		}
		return nil, nil
	}

	if f.resolver.Restore(context.Background(), "") {
		t.Error("空のVINで復元された")
	}
	if f.resolver.Restore(context.Background(), "2HGFC2F59JH000001") {
		t.Error("未登録のVINで復元された")
	}
	if !f.resolver.Restore(context.Background(), testVIN) {
		t.Fatal("登録済みのVINが復元されない")
	}
	if !f.resolver.HasVehicle() {
		t.Error("復元後に車両が特定されていない")
	}
	if f.decoder.decodeCalls != 0 {
		t.Error("復元でデコードが呼ばれた")
	}
}
