package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyhub/internal/models"
)

const postgresOpTimeout = 10 * time.Second

// PostgresStorage is the pgx-backed repository used when replicas need to
// share portal state.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresStorage)(nil)

// NewPostgresStorage opens a Postgres-backed repository and bootstraps the
// schema when missing.
func NewPostgresStorage(dsn string, opts ...PostgresOption) (*PostgresStorage, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresStorage{pool: pool}
	if err := repo.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the connection pool, bounded by ctx.
func (r *PostgresStorage) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresStorage) migrate() error {
	ctx, cancel := opContext()
	defer cancel()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			roles TEXT[] NOT NULL DEFAULT '{}',
			password_hash TEXT NOT NULL DEFAULT '',
			self_signup BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS departments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			code TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resources (
			id TEXT PRIMARY KEY,
			department_id TEXT NOT NULL REFERENCES departments(id),
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			added_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			department_id TEXT NOT NULL REFERENCES departments(id),
			title TEXT NOT NULL,
			original_filename TEXT NOT NULL DEFAULT '',
			storage_name TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			uploaded_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS id_sequences (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresOpTimeout)
}

// Ping verifies the database is reachable.
func (r *PostgresStorage) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *PostgresStorage) nextID(ctx context.Context, prefix string) (string, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `
INSERT INTO id_sequences (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = id_sequences.value + 1
RETURNING value
`, prefix).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("advance %s sequence: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%d", prefix, value), nil
}

// User operations

func (r *PostgresStorage) CreateUser(params CreateUserParams) (models.User, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, errors.New("displayName is required")
	}
	roles := normalizeRoles(params.Roles)
	if params.SelfSignup {
		if params.Password == "" {
			return models.User{}, errors.New("password is required for self-service signup")
		}
		if len(roles) == 0 {
			roles = []string{"student"}
		}
	}
	var passwordHash string
	if params.Password != "" {
		hashed, err := hashPassword(params.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hashed
	}

	ctx, cancel := opContext()
	defer cancel()

	id, err := r.nextID(ctx, userIDPrefix)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           id,
		DisplayName:  displayName,
		Email:        normalizedEmail,
		Roles:        roles,
		PasswordHash: passwordHash,
		SelfSignup:   params.SelfSignup,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, user.ID, user.DisplayName, user.Email, user.Roles, user.PasswordHash, user.SelfSignup, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already in use", params.Email)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Roles,
		&user.PasswordHash, &user.SelfSignup, &user.CreatedAt)
	return user, err
}

const userColumns = `id, display_name, email, roles, password_hash, self_signup, created_at`

func (r *PostgresStorage) ListUsers() []models.User {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *PostgresStorage) GetUser(id string) (models.User, bool) {
	ctx, cancel := opContext()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresStorage) FindUserByEmail(email string) (models.User, bool) {
	ctx, cancel := opContext()
	defer cancel()
	normalized := strings.TrimSpace(strings.ToLower(email))
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresStorage) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrPasswordLoginUnsupported
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *PostgresStorage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	ctx, cancel := opContext()
	defer cancel()

	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", id)
	}
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return models.User{}, errors.New("displayName cannot be empty")
		}
		user.DisplayName = name
	}
	if update.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*update.Email))
		if email == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		user.Email = email
	}
	if update.Roles != nil {
		user.Roles = normalizeRoles(*update.Roles)
	}

	_, err := r.pool.Exec(ctx, `
UPDATE users SET display_name = $2, email = $3, roles = $4 WHERE id = $1
`, user.ID, user.DisplayName, user.Email, user.Roles)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already in use", user.Email)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (r *PostgresStorage) SetUserPassword(id, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", id)
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := opContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hashed); err != nil {
		return models.User{}, fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hashed
	return user, nil
}

func (r *PostgresStorage) DeleteUser(id string) error {
	ctx, cancel := opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// Department operations

const departmentColumns = `id, name, code, description, created_at, updated_at`

func scanDepartment(row pgx.Row) (models.Department, error) {
	var department models.Department
	err := row.Scan(&department.ID, &department.Name, &department.Code,
		&department.Description, &department.CreatedAt, &department.UpdatedAt)
	return department, err
}

func (r *PostgresStorage) CreateDepartment(params CreateDepartmentParams) (models.Department, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Department{}, errors.New("name is required")
	}
	code := normalizeDepartmentCode(params.Code)
	if code == "" {
		return models.Department{}, errors.New("code is required")
	}

	ctx, cancel := opContext()
	defer cancel()
	id, err := r.nextID(ctx, departmentIDPrefix)
	if err != nil {
		return models.Department{}, err
	}
	now := time.Now().UTC()
	department := models.Department{
		ID:          id,
		Name:        name,
		Code:        code,
		Description: strings.TrimSpace(params.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO departments (id, name, code, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, department.ID, department.Name, department.Code, department.Description, department.CreatedAt, department.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Department{}, fmt.Errorf("department name or code already in use")
		}
		return models.Department{}, fmt.Errorf("insert department: %w", err)
	}
	return department, nil
}

func (r *PostgresStorage) ListDepartments() []models.Department {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var departments []models.Department
	for rows.Next() {
		department, err := scanDepartment(rows)
		if err != nil {
			return nil
		}
		departments = append(departments, department)
	}
	return departments
}

func (r *PostgresStorage) GetDepartment(id string) (models.Department, bool) {
	ctx, cancel := opContext()
	defer cancel()
	department, err := scanDepartment(r.pool.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
	if err != nil {
		return models.Department{}, false
	}
	return department, true
}

func (r *PostgresStorage) UpdateDepartment(id string, update DepartmentUpdate) (models.Department, error) {
	department, ok := r.GetDepartment(id)
	if !ok {
		return models.Department{}, fmt.Errorf("department %s not found", id)
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Department{}, errors.New("name cannot be empty")
		}
		department.Name = name
	}
	if update.Code != nil {
		code := normalizeDepartmentCode(*update.Code)
		if code == "" {
			return models.Department{}, errors.New("code cannot be empty")
		}
		department.Code = code
	}
	if update.Description != nil {
		department.Description = strings.TrimSpace(*update.Description)
	}
	department.UpdatedAt = time.Now().UTC()

	ctx, cancel := opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE departments SET name = $2, code = $3, description = $4, updated_at = $5 WHERE id = $1
`, department.ID, department.Name, department.Code, department.Description, department.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Department{}, fmt.Errorf("department name or code already in use")
		}
		return models.Department{}, fmt.Errorf("update department: %w", err)
	}
	return department, nil
}

func (r *PostgresStorage) DeleteDepartment(id string) error {
	ctx, cancel := opContext()
	defer cancel()

	var references int
	err := r.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM resources WHERE department_id = $1)
     + (SELECT COUNT(*) FROM documents WHERE department_id = $1)
`, id).Scan(&references)
	if err != nil {
		return fmt.Errorf("count department references: %w", err)
	}
	if references > 0 {
		return fmt.Errorf("department %s still has resources or documents; delete them first", id)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("department %s not found", id)
	}
	return nil
}

// Resource operations

const resourceColumns = `id, department_id, title, url, description, tags, added_by, created_at, updated_at`

func scanResource(row pgx.Row) (models.Resource, error) {
	var resource models.Resource
	err := row.Scan(&resource.ID, &resource.DepartmentID, &resource.Title, &resource.URL,
		&resource.Description, &resource.Tags, &resource.AddedBy, &resource.CreatedAt, &resource.UpdatedAt)
	return resource, err
}

func (r *PostgresStorage) CreateResource(params CreateResourceParams) (models.Resource, error) {
	if _, ok := r.GetDepartment(params.DepartmentID); !ok {
		return models.Resource{}, fmt.Errorf("department %s not found", params.DepartmentID)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Resource{}, errors.New("title is required")
	}
	resourceURL, err := validateResourceURL(params.URL)
	if err != nil {
		return models.Resource{}, err
	}

	ctx, cancel := opContext()
	defer cancel()
	id, err := r.nextID(ctx, resourceIDPrefix)
	if err != nil {
		return models.Resource{}, err
	}
	now := time.Now().UTC()
	resource := models.Resource{
		ID:           id,
		DepartmentID: params.DepartmentID,
		Title:        title,
		URL:          resourceURL,
		Description:  strings.TrimSpace(params.Description),
		Tags:         normalizeTags(params.Tags),
		AddedBy:      params.AddedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tags := resource.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO resources (id, department_id, title, url, description, tags, added_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, resource.ID, resource.DepartmentID, resource.Title, resource.URL, resource.Description, tags,
		resource.AddedBy, resource.CreatedAt, resource.UpdatedAt)
	if err != nil {
		return models.Resource{}, fmt.Errorf("insert resource: %w", err)
	}
	return resource, nil
}

func (r *PostgresStorage) ListResources(departmentID, query string) []models.Resource {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT `+resourceColumns+` FROM resources
WHERE ($1 = '' OR department_id = $1)
ORDER BY created_at DESC
`, departmentID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	var resources []models.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil
		}
		if normalizedQuery != "" && !resourceMatches(resource, normalizedQuery) {
			continue
		}
		resources = append(resources, resource)
	}
	return resources
}

func (r *PostgresStorage) GetResource(id string) (models.Resource, bool) {
	ctx, cancel := opContext()
	defer cancel()
	resource, err := scanResource(r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if err != nil {
		return models.Resource{}, false
	}
	return resource, true
}

func (r *PostgresStorage) UpdateResource(id string, update ResourceUpdate) (models.Resource, error) {
	resource, ok := r.GetResource(id)
	if !ok {
		return models.Resource{}, fmt.Errorf("resource %s not found", id)
	}
	if update.DepartmentID != nil {
		departmentID := strings.TrimSpace(*update.DepartmentID)
		if _, ok := r.GetDepartment(departmentID); !ok {
			return models.Resource{}, fmt.Errorf("department %s not found", departmentID)
		}
		resource.DepartmentID = departmentID
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Resource{}, errors.New("title cannot be empty")
		}
		resource.Title = title
	}
	if update.URL != nil {
		resourceURL, err := validateResourceURL(*update.URL)
		if err != nil {
			return models.Resource{}, err
		}
		resource.URL = resourceURL
	}
	if update.Description != nil {
		resource.Description = strings.TrimSpace(*update.Description)
	}
	if update.Tags != nil {
		resource.Tags = normalizeTags(*update.Tags)
	}
	resource.UpdatedAt = time.Now().UTC()
	tags := resource.Tags
	if tags == nil {
		tags = []string{}
	}

	ctx, cancel := opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE resources SET department_id = $2, title = $3, url = $4, description = $5, tags = $6, updated_at = $7 WHERE id = $1
`, resource.ID, resource.DepartmentID, resource.Title, resource.URL, resource.Description, tags, resource.UpdatedAt)
	if err != nil {
		return models.Resource{}, fmt.Errorf("update resource: %w", err)
	}
	return resource, nil
}

func (r *PostgresStorage) DeleteResource(id string) error {
	ctx, cancel := opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s not found", id)
	}
	return nil
}

// Document operations

const documentColumns = `id, department_id, title, original_filename, storage_name, size_bytes,
	content_type, checksum, status, error, uploaded_by, created_at, updated_at`

func scanDocument(row pgx.Row) (models.Document, error) {
	var document models.Document
	err := row.Scan(&document.ID, &document.DepartmentID, &document.Title, &document.OriginalFilename,
		&document.StorageName, &document.SizeBytes, &document.ContentType, &document.Checksum,
		&document.Status, &document.Error, &document.UploadedBy, &document.CreatedAt, &document.UpdatedAt)
	return document, err
}

func (r *PostgresStorage) CreateDocument(params CreateDocumentParams) (models.Document, error) {
	if _, ok := r.GetDepartment(params.DepartmentID); !ok {
		return models.Document{}, fmt.Errorf("department %s not found", params.DepartmentID)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Document{}, errors.New("title is required")
	}
	if strings.TrimSpace(params.StorageName) == "" {
		return models.Document{}, errors.New("storageName is required")
	}
	if params.SizeBytes < 0 {
		return models.Document{}, errors.New("sizeBytes cannot be negative")
	}

	ctx, cancel := opContext()
	defer cancel()
	id, err := r.nextID(ctx, documentIDPrefix)
	if err != nil {
		return models.Document{}, err
	}
	now := time.Now().UTC()
	document := models.Document{
		ID:               id,
		DepartmentID:     params.DepartmentID,
		Title:            title,
		OriginalFilename: params.OriginalFilename,
		StorageName:      params.StorageName,
		SizeBytes:        params.SizeBytes,
		ContentType:      strings.TrimSpace(params.ContentType),
		Status:           models.DocumentStatusPending,
		UploadedBy:       params.UploadedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO documents (id, department_id, title, original_filename, storage_name, size_bytes,
	content_type, checksum, status, error, uploaded_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, '', $9, $10, $11)
`, document.ID, document.DepartmentID, document.Title, document.OriginalFilename, document.StorageName,
		document.SizeBytes, document.ContentType, document.Status, document.UploadedBy,
		document.CreatedAt, document.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return document, nil
}

func (r *PostgresStorage) ListDocuments(departmentID string) []models.Document {
	ctx, cancel := opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT `+documentColumns+` FROM documents
WHERE ($1 = '' OR department_id = $1)
ORDER BY created_at DESC
`, departmentID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var documents []models.Document
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil
		}
		documents = append(documents, document)
	}
	return documents
}

func (r *PostgresStorage) GetDocument(id string) (models.Document, bool) {
	ctx, cancel := opContext()
	defer cancel()
	document, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return models.Document{}, false
	}
	return document, true
}

func (r *PostgresStorage) UpdateDocument(id string, update DocumentUpdate) (models.Document, error) {
	document, ok := r.GetDocument(id)
	if !ok {
		return models.Document{}, fmt.Errorf("document %s not found", id)
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Document{}, errors.New("title cannot be empty")
		}
		document.Title = title
	}
	if update.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*update.Status))
		if !validDocumentStatus(status) {
			return models.Document{}, fmt.Errorf("invalid document status %q", *update.Status)
		}
		document.Status = status
	}
	if update.Checksum != nil {
		document.Checksum = strings.TrimSpace(*update.Checksum)
	}
	if update.Error != nil {
		document.Error = strings.TrimSpace(*update.Error)
	}
	document.UpdatedAt = time.Now().UTC()

	ctx, cancel := opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
UPDATE documents SET title = $2, status = $3, checksum = $4, error = $5, updated_at = $6 WHERE id = $1
`, document.ID, document.Title, document.Status, document.Checksum, document.Error, document.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("update document: %w", err)
	}
	return document, nil
}

func (r *PostgresStorage) DeleteDocument(id string) error {
	ctx, cancel := opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	// 23505 is the Postgres unique_violation code.
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
