package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/database"
	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// DefinitionRepository persists WorkflowDefinition documents.
type DefinitionRepository interface {
	Create(ctx context.Context, d *WorkflowDefinition) error
	Get(ctx context.Context, id string) (*WorkflowDefinition, error)
	GetByNameVersion(ctx context.Context, name, version string) (*WorkflowDefinition, error)
	List(ctx context.Context) ([]*WorkflowDefinition, error)
}

// ExecutionRepository persists Execution documents.
type ExecutionRepository interface {
	Create(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*Execution, error)
	Update(ctx context.Context, e *Execution) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status Status) ([]*Execution, error)
	FindCompletedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error)
	FindPausedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error)
}

const (
	definitionsCollection = "workflow_definitions"
	executionsCollection  = "workflow_executions"
)

// ArangoDefinitionRepository implements DefinitionRepository over ArangoDB.
type ArangoDefinitionRepository struct {
	db         driver.Database
	collection driver.Collection
}

// NewArangoDefinitionRepository ensures the workflow_definitions collection
// and its indexes exist.
func NewArangoDefinitionRepository(ctx context.Context, client *database.ArangoClient) (*ArangoDefinitionRepository, error) {
	col, err := client.EnsureCollection(ctx, definitionsCollection)
	if err != nil {
		return nil, fmt.Errorf("ensure %s collection: %w", definitionsCollection, err)
	}
	client.EnsurePersistentIndex(ctx, col, "idx_name_version", []string{"name", "version"}, true)

	log.WithField("collection", definitionsCollection).Info("workflow definition repository initialized")
	return &ArangoDefinitionRepository{db: client.Database(), collection: col}, nil
}

// Create stores a new workflow definition.
func (r *ArangoDefinitionRepository) Create(ctx context.Context, d *WorkflowDefinition) error {
	d.Key = d.ID
	if _, err := r.collection.CreateDocument(ctx, d); err != nil {
		return fmt.Errorf("create workflow definition %s: %w", d.ID, err)
	}
	return nil
}

// Get retrieves a workflow definition by id.
func (r *ArangoDefinitionRepository) Get(ctx context.Context, id string) (*WorkflowDefinition, error) {
	var d WorkflowDefinition
	if _, err := r.collection.ReadDocument(ctx, id, &d); err != nil {
		if driver.IsNotFound(err) {
			return nil, apperror.NotFoundf("workflow definition %s", id)
		}
		return nil, fmt.Errorf("read workflow definition %s: %w", id, err)
	}
	return &d, nil
}

// GetByNameVersion retrieves a workflow definition by its unique
// (name, version) identity.
func (r *ArangoDefinitionRepository) GetByNameVersion(ctx context.Context, name, version string) (*WorkflowDefinition, error) {
	query := "FOR d IN @@collection FILTER d.name == @name AND d.version == @version LIMIT 1 RETURN d"
	bindVars := map[string]interface{}{"@collection": definitionsCollection, "name": name, "version": version}

	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query workflow definition %s/%s: %w", name, version, err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, apperror.NotFoundf("workflow definition %s/%s", name, version)
	}
	var d WorkflowDefinition
	if _, err := cursor.ReadDocument(ctx, &d); err != nil {
		return nil, fmt.Errorf("read workflow definition document: %w", err)
	}
	return &d, nil
}

// List returns every workflow definition.
func (r *ArangoDefinitionRepository) List(ctx context.Context) ([]*WorkflowDefinition, error) {
	query := "FOR d IN @@collection RETURN d"
	bindVars := map[string]interface{}{"@collection": definitionsCollection}

	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query workflow definitions: %w", err)
	}
	defer cursor.Close()

	var out []*WorkflowDefinition
	for cursor.HasMore() {
		var d WorkflowDefinition
		if _, err := cursor.ReadDocument(ctx, &d); err != nil {
			return nil, fmt.Errorf("read workflow definition document: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// ArangoExecutionRepository implements ExecutionRepository over ArangoDB.
type ArangoExecutionRepository struct {
	db         driver.Database
	collection driver.Collection
}

// NewArangoExecutionRepository ensures the workflow_executions collection
// and its indexes exist.
func NewArangoExecutionRepository(ctx context.Context, client *database.ArangoClient) (*ArangoExecutionRepository, error) {
	col, err := client.EnsureCollection(ctx, executionsCollection)
	if err != nil {
		return nil, fmt.Errorf("ensure %s collection: %w", executionsCollection, err)
	}
	client.EnsurePersistentIndex(ctx, col, "idx_status", []string{"status"}, false)
	client.EnsurePersistentIndex(ctx, col, "idx_correlation_id", []string{"correlationId"}, true)

	log.WithField("collection", executionsCollection).Info("workflow execution repository initialized")
	return &ArangoExecutionRepository{db: client.Database(), collection: col}, nil
}

// Create stores a new workflow execution.
func (r *ArangoExecutionRepository) Create(ctx context.Context, e *Execution) error {
	e.Key = e.ID
	if _, err := r.collection.CreateDocument(ctx, e); err != nil {
		return fmt.Errorf("create workflow execution %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves a workflow execution by id.
func (r *ArangoExecutionRepository) Get(ctx context.Context, id string) (*Execution, error) {
	var e Execution
	if _, err := r.collection.ReadDocument(ctx, id, &e); err != nil {
		if driver.IsNotFound(err) {
			return nil, apperror.NotFoundf("workflow execution %s", id)
		}
		return nil, fmt.Errorf("read workflow execution %s: %w", id, err)
	}
	return &e, nil
}

// GetByCorrelationID retrieves a workflow execution by its unique
// correlation id.
func (r *ArangoExecutionRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*Execution, error) {
	query := "FOR e IN @@collection FILTER e.correlationId == @cid LIMIT 1 RETURN e"
	bindVars := map[string]interface{}{"@collection": executionsCollection, "cid": correlationID}

	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query workflow execution by correlation id: %w", err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, apperror.NotFoundf("workflow execution with correlationId %s", correlationID)
	}
	var e Execution
	if _, err := cursor.ReadDocument(ctx, &e); err != nil {
		return nil, fmt.Errorf("read workflow execution document: %w", err)
	}
	return &e, nil
}

// Update replaces an existing workflow execution document.
func (r *ArangoExecutionRepository) Update(ctx context.Context, e *Execution) error {
	e.Key = e.ID
	if _, err := r.collection.ReplaceDocument(ctx, e.ID, e); err != nil {
		if driver.IsNotFound(err) {
			return apperror.NotFoundf("workflow execution %s", e.ID)
		}
		return fmt.Errorf("update workflow execution %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes a workflow execution document.
func (r *ArangoExecutionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.RemoveDocument(ctx, id); err != nil {
		if driver.IsNotFound(err) {
			return apperror.NotFoundf("workflow execution %s", id)
		}
		return fmt.Errorf("delete workflow execution %s: %w", id, err)
	}
	return nil
}

// ListByStatus returns every workflow execution in the given status.
func (r *ArangoExecutionRepository) ListByStatus(ctx context.Context, status Status) ([]*Execution, error) {
	query := "FOR e IN @@collection FILTER e.status == @status RETURN e"
	bindVars := map[string]interface{}{"@collection": executionsCollection, "status": string(status)}
	return r.queryAll(ctx, query, bindVars)
}

// FindCompletedOlderThan returns terminal workflow executions completed
// before t, used by the retention sweep.
func (r *ArangoExecutionRepository) FindCompletedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error) {
	query := `FOR e IN @@collection
		FILTER e.status IN @terminal AND e.completedAt != null AND e.completedAt < @cutoff
		RETURN e`
	bindVars := map[string]interface{}{
		"@collection": executionsCollection,
		"terminal":    []string{string(StatusCompleted), string(StatusFailed), string(StatusCancelled)},
		"cutoff":      t.UTC().Format(time.RFC3339Nano),
	}
	return r.queryAll(ctx, query, bindVars)
}

// FindPausedOlderThan returns PAUSED workflow executions started before t,
// used by the stuck-workflow sweep.
func (r *ArangoExecutionRepository) FindPausedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error) {
	query := `FOR e IN @@collection
		FILTER e.status == @status AND e.startedAt != null AND e.startedAt < @cutoff
		RETURN e`
	bindVars := map[string]interface{}{
		"@collection": executionsCollection,
		"status":      string(StatusPaused),
		"cutoff":      t.UTC().Format(time.RFC3339Nano),
	}
	return r.queryAll(ctx, query, bindVars)
}

func (r *ArangoExecutionRepository) queryAll(ctx context.Context, query string, bindVars map[string]interface{}) ([]*Execution, error) {
	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query workflow executions: %w", err)
	}
	defer cursor.Close()

	var out []*Execution
	for cursor.HasMore() {
		var e Execution
		if _, err := cursor.ReadDocument(ctx, &e); err != nil {
			return nil, fmt.Errorf("read workflow execution document: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// InMemoryExecutionRepository is a concurrency-safe in-memory
// ExecutionRepository used in tests.
type InMemoryExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*Execution
}

// NewInMemoryExecutionRepository returns an empty repository.
func NewInMemoryExecutionRepository() *InMemoryExecutionRepository {
	return &InMemoryExecutionRepository{executions: make(map[string]*Execution)}
}

func cloneExecution(e *Execution) *Execution {
	cp := *e
	cp.Variables = copyStrMap(e.Variables)
	cp.ReviewPoints = append([]UserReviewPoint(nil), e.ReviewPoints...)
	return &cp
}

func copyStrMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Create implements ExecutionRepository.
func (r *InMemoryExecutionRepository) Create(_ context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[e.ID]; exists {
		return fmt.Errorf("workflow execution %s already exists", e.ID)
	}
	for _, existing := range r.executions {
		if existing.CorrelationID == e.CorrelationID {
			return fmt.Errorf("correlation id %s already in use", e.CorrelationID)
		}
	}
	r.executions[e.ID] = cloneExecution(e)
	return nil
}

// Get implements ExecutionRepository.
func (r *InMemoryExecutionRepository) Get(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, apperror.NotFoundf("workflow execution %s", id)
	}
	return cloneExecution(e), nil
}

// GetByCorrelationID implements ExecutionRepository.
func (r *InMemoryExecutionRepository) GetByCorrelationID(_ context.Context, correlationID string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.executions {
		if e.CorrelationID == correlationID {
			return cloneExecution(e), nil
		}
	}
	return nil, apperror.NotFoundf("workflow execution with correlationId %s", correlationID)
}

// Update implements ExecutionRepository.
func (r *InMemoryExecutionRepository) Update(_ context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; !ok {
		return apperror.NotFoundf("workflow execution %s", e.ID)
	}
	r.executions[e.ID] = cloneExecution(e)
	return nil
}

// Delete implements ExecutionRepository.
func (r *InMemoryExecutionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[id]; !ok {
		return apperror.NotFoundf("workflow execution %s", id)
	}
	delete(r.executions, id)
	return nil
}

// ListByStatus implements ExecutionRepository.
func (r *InMemoryExecutionRepository) ListByStatus(_ context.Context, status Status) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, e := range r.executions {
		if e.Status == status {
			out = append(out, cloneExecution(e))
		}
	}
	return out, nil
}

// FindCompletedOlderThan implements ExecutionRepository.
func (r *InMemoryExecutionRepository) FindCompletedOlderThan(_ context.Context, t time.Time) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, e := range r.executions {
		if e.Status.IsTerminal() && e.CompletedAt != nil && e.CompletedAt.Before(t) {
			out = append(out, cloneExecution(e))
		}
	}
	return out, nil
}

// FindPausedOlderThan implements ExecutionRepository.
func (r *InMemoryExecutionRepository) FindPausedOlderThan(_ context.Context, t time.Time) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, e := range r.executions {
		if e.Status == StatusPaused && e.StartedAt != nil && e.StartedAt.Before(t) {
			out = append(out, cloneExecution(e))
		}
	}
	return out, nil
}

// InMemoryDefinitionRepository is a concurrency-safe in-memory
// DefinitionRepository used in tests.
type InMemoryDefinitionRepository struct {
	mu          sync.RWMutex
	definitions map[string]*WorkflowDefinition
}

// NewInMemoryDefinitionRepository returns an empty repository.
func NewInMemoryDefinitionRepository() *InMemoryDefinitionRepository {
	return &InMemoryDefinitionRepository{definitions: make(map[string]*WorkflowDefinition)}
}

// Create implements DefinitionRepository.
func (r *InMemoryDefinitionRepository) Create(_ context.Context, d *WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.definitions {
		if existing.Name == d.Name && existing.Version == d.Version {
			return fmt.Errorf("workflow definition %s/%s already exists", d.Name, d.Version)
		}
	}
	cp := *d
	r.definitions[d.ID] = &cp
	return nil
}

// Get implements DefinitionRepository.
func (r *InMemoryDefinitionRepository) Get(_ context.Context, id string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[id]
	if !ok {
		return nil, apperror.NotFoundf("workflow definition %s", id)
	}
	cp := *d
	return &cp, nil
}

// GetByNameVersion implements DefinitionRepository.
func (r *InMemoryDefinitionRepository) GetByNameVersion(_ context.Context, name, version string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.definitions {
		if d.Name == name && d.Version == version {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperror.NotFoundf("workflow definition %s/%s", name, version)
}

// List implements DefinitionRepository.
func (r *InMemoryDefinitionRepository) List(_ context.Context) ([]*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkflowDefinition, 0, len(r.definitions))
	for _, d := range r.definitions {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}
