package service

import (
	"context"
	"errors"
	"testing"

	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- In-memory fakes for the repository interfaces ---

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type memUserRepo struct {
	users map[uuid.UUID]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return errors.New("duplicate email")
		}
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type memRequestRepo struct {
	requests map[uuid.UUID]*model.Request
	failOnID uuid.UUID // Update returns an error for this id when set
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{requests: make(map[uuid.UUID]*model.Request)}
}

func (r *memRequestRepo) Create(_ context.Context, req *model.Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *memRequestRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *memRequestRepo) FindByIDWithCreator(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	return r.FindByID(ctx, id)
}

func (r *memRequestRepo) FindChildren(_ context.Context, parentID uuid.UUID) ([]model.Request, error) {
	var children []model.Request
	for _, req := range r.requests {
		if req.ParentID != nil && *req.ParentID == parentID {
			children = append(children, *req)
		}
	}
	return children, nil
}

func (r *memRequestRepo) List(_ context.Context, status string, offset, limit int) ([]model.Request, int64, error) {
	var all []model.Request
	for _, req := range r.requests {
		if status == "" || req.Status == status {
			all = append(all, *req)
		}
	}
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *memRequestRepo) Update(_ context.Context, req *model.Request) error {
	if r.failOnID != uuid.Nil && req.ID == r.failOnID {
		return errors.New("forced update failure")
	}
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

type memAuditRepo struct {
	entries []model.AuditLog
}

func (r *memAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, offset, limit int) ([]model.AuditLog, int64, error) {
	return r.entries, int64(len(r.entries)), nil
}

// --- Fixture ---

type lifecycleFixture struct {
	svc         RequestService
	requestRepo *memRequestRepo
	userRepo    *memUserRepo
	auditRepo   *memAuditRepo
	creator     *model.User
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	userRepo := newMemUserRepo()
	requestRepo := newMemRequestRepo()
	auditRepo := &memAuditRepo{}

	creator := &model.User{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     model.RoleStudent,
	}
	require.NoError(t, userRepo.Create(context.Background(), creator))

	svc := NewRequestService(requestRepo, userRepo, auditRepo, fakeTxManager{}, nil)
	return &lifecycleFixture{
		svc:         svc,
		requestRepo: requestRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		creator:     creator,
	}
}

func (f *lifecycleFixture) mustCreate(t *testing.T, dto CreateRequestDTO) RequestResponse {
	t.Helper()
	res, err := f.svc.CreateRequest(context.Background(), f.creator.ID.String(), dto)
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestCreateRequestAutoForward(t *testing.T) {
	f := newLifecycleFixture(t)

	for _, requestType := range AutoForwardTypes {
		res := f.mustCreate(t, CreateRequestDTO{Type: requestType, Location: "A1"})

		assert.Equal(t, model.StatusAssigned, res.Status)
		require.Len(t, res.History, 2)
		assert.Equal(t, model.HistoryActionCreated, res.History[0].Action)
		assert.Equal(t, "Request created by Nguyen Van A", res.History[0].Note)
		assert.Equal(t, model.HistoryActionAutoForwarded, res.History[1].Action)
	}
}

func TestCreateRequestPending(t *testing.T) {
	f := newLifecycleFixture(t)

	res := f.mustCreate(t, CreateRequestDTO{Type: "Báo hỏng thiết bị", Location: "B2"})

	assert.Equal(t, model.StatusPending, res.Status)
	require.Len(t, res.History, 1)
	assert.Equal(t, model.HistoryActionCreated, res.History[0].Action)
	assert.Nil(t, res.ParentID)

	require.Len(t, f.auditRepo.entries, 1)
	assert.Equal(t, model.ActionCreateRequest, f.auditRepo.entries[0].Action)
}

func TestCreateRequestUnknownUser(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), uuid.NewString(), CreateRequestDTO{Type: "Other", Location: "A1"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateSubRequest(t *testing.T) {
	f := newLifecycleFixture(t)

	parent := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})

	child, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), parent.ID, CreateRequestDTO{Type: "Mở cửa phòng", Location: "A1"})
	require.NoError(t, err)

	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, model.StatusAssigned, child.Status, "auto-forward still applies to sub-requests")

	require.Len(t, f.auditRepo.entries, 2)
	assert.Equal(t, model.ActionCreateSubRequest, f.auditRepo.entries[1].Action)
}

func TestCreateSubRequestOfSubRequestFails(t *testing.T) {
	f := newLifecycleFixture(t)

	parent := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	child, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), parent.ID, CreateRequestDTO{Type: "Other", Location: "A1"})
	require.NoError(t, err)

	_, err = f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), child.ID, CreateRequestDTO{Type: "Other", Location: "A1"})
	assert.ErrorIs(t, err, ErrNestedSubRequest)
}

func TestCreateSubRequestMissingParent(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), uuid.NewString(), CreateRequestDTO{Type: "Other", Location: "A1"})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestUpdateRequestOverwritesStatus(t *testing.T) {
	f := newLifecycleFixture(t)

	created := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})

	// Any status may follow any status, terminal states included
	for _, status := range []string{model.StatusCompleted, model.StatusPending, model.StatusCancelled, model.StatusAssigned} {
		res, err := f.svc.UpdateRequest(context.Background(), created.ID, UpdateRequestDTO{Status: status})
		require.NoError(t, err)
		assert.Equal(t, status, res.Status)
	}

	res, err := f.svc.GetRequest(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, res.History, 5, "one entry per status change plus creation")
	assert.Equal(t, "Status changed to assigned", res.History[4].Action)
	assert.Equal(t, model.HistoryDefaultNote, res.History[4].Note)
}

func TestUpdateRequestRejectionReason(t *testing.T) {
	f := newLifecycleFixture(t)

	withNote := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	res, err := f.svc.UpdateRequest(context.Background(), withNote.ID, UpdateRequestDTO{Status: model.StatusRejected, Note: "Phòng đã kín lịch"})
	require.NoError(t, err)
	require.NotNil(t, res.RejectionReason)
	assert.Equal(t, "Phòng đã kín lịch", *res.RejectionReason)
	assert.Equal(t, "Phòng đã kín lịch", res.History[len(res.History)-1].Note)

	withoutNote := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	res, err = f.svc.UpdateRequest(context.Background(), withoutNote.ID, UpdateRequestDTO{Status: model.StatusRejected})
	require.NoError(t, err)
	assert.Nil(t, res.RejectionReason, "no note means no rejection reason")
}

func TestUpdateRequestWithoutStatusLeavesHistory(t *testing.T) {
	f := newLifecycleFixture(t)

	created := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})

	res, err := f.svc.UpdateRequest(context.Background(), created.ID, UpdateRequestDTO{Note: "ignored"})
	require.NoError(t, err)
	assert.Len(t, res.History, 1)
	assert.Equal(t, model.StatusPending, res.Status)
}

func TestUpdateRequestNotFound(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.UpdateRequest(context.Background(), uuid.NewString(), UpdateRequestDTO{Status: model.StatusCompleted})
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestCancelRequestByNonCreator(t *testing.T) {
	f := newLifecycleFixture(t)

	other := &model.User{Email: "other@hust.edu.vn", FullName: "Tran Thi B", Role: model.RoleStudent}
	require.NoError(t, f.userRepo.Create(context.Background(), other))

	created := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})

	_, err := f.svc.CancelRequest(context.Background(), created.ID, other.ID.String())
	assert.ErrorIs(t, err, ErrNotRequestOwner)

	res, getErr := f.svc.GetRequest(context.Background(), created.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusPending, res.Status, "status untouched after forbidden cancel")
	assert.Len(t, res.History, 1)
}

func TestCancelRequestCascades(t *testing.T) {
	f := newLifecycleFixture(t)

	parent := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	childA, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), parent.ID, CreateRequestDTO{Type: "Other", Location: "A1"})
	require.NoError(t, err)
	childB, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), parent.ID, CreateRequestDTO{Type: "Other", Location: "A1"})
	require.NoError(t, err)

	// Push one child into a terminal state; the cascade still applies
	_, err = f.svc.UpdateRequest(context.Background(), childA.ID, UpdateRequestDTO{Status: model.StatusCompleted})
	require.NoError(t, err)

	res, err := f.svc.CancelRequest(context.Background(), parent.ID, f.creator.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Equal(t, "Cancelled by user", res.History[len(res.History)-1].Note)

	for _, childID := range []string{childA.ID, childB.ID} {
		child, getErr := f.svc.GetRequest(context.Background(), childID)
		require.NoError(t, getErr)
		assert.Equal(t, model.StatusCancelled, child.Status)
		last := child.History[len(child.History)-1]
		assert.Equal(t, model.HistoryActionCancelled, last.Action)
		assert.Equal(t, "Cancelled because parent request was cancelled", last.Note)
	}
}

func TestCancelRequestChildFailureAborts(t *testing.T) {
	f := newLifecycleFixture(t)

	parent := f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	child, err := f.svc.CreateSubRequest(context.Background(), f.creator.ID.String(), parent.ID, CreateRequestDTO{Type: "Other", Location: "A1"})
	require.NoError(t, err)

	childID, err := uuid.Parse(child.ID)
	require.NoError(t, err)
	f.requestRepo.failOnID = childID

	_, err = f.svc.CancelRequest(context.Background(), parent.ID, f.creator.ID.String())
	assert.Error(t, err, "cascade must surface the persistence failure to trigger rollback")
}

func TestCancelRequestNotFound(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.CancelRequest(context.Background(), uuid.NewString(), f.creator.ID.String())
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestListRequestsStatusFilter(t *testing.T) {
	f := newLifecycleFixture(t)

	f.mustCreate(t, CreateRequestDTO{Type: "Other", Location: "A1"})
	f.mustCreate(t, CreateRequestDTO{Type: "Mở cửa phòng", Location: "A2"})

	assigned, total, err := f.svc.ListRequests(context.Background(), RequestFilter{Status: model.StatusAssigned})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, assigned, 1)
	assert.Equal(t, "Mở cửa phòng", assigned[0].Type)

	all, total, err := f.svc.ListRequests(context.Background(), RequestFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)
}
