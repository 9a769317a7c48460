package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

const incidentCols = `id, user_id, source, severity, failure_type, outcome, confidence, error_log, error_message, stack_trace, root_cause, outcome_message, repository, namespace, service, tags, embedding, remediation_executed, created, updated, resolved_at, resolution_seconds`

func scanIncident(s interface{ Scan(...any) error }) (*models.Incident, error) {
	var (
		inc         models.Incident
		failureType sql.NullString
		outcome     sql.NullString
		tagsJSON    string
		embedJSON   sql.NullString
		remediation int
		created     int64
		updated     int64
		resolvedAt  sql.NullInt64
		resolution  sql.NullInt64
	)
	err := s.Scan(&inc.ID, &inc.UserID, &inc.Source, &inc.Severity, &failureType, &outcome,
		&inc.Confidence, &inc.ErrorLog, &inc.ErrorMessage, &inc.StackTrace, &inc.RootCause,
		&inc.OutcomeMessage, &inc.Context.Repository, &inc.Context.Namespace, &inc.Context.Service,
		&tagsJSON, &embedJSON, &remediation, &created, &updated, &resolvedAt, &resolution)
	if err != nil {
		return nil, err
	}
	if failureType.Valid {
		inc.FailureType = failureType.String
	}
	inc.Outcome = models.OutcomePending
	if outcome.Valid && outcome.String != "" {
		inc.Outcome = outcome.String
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &inc.Tags)
	}
	if embedJSON.Valid && embedJSON.String != "" {
		_ = json.Unmarshal([]byte(embedJSON.String), &inc.Embedding)
	}
	inc.RemediationExecuted = remediation != 0
	inc.CreatedAt = timeFromUnix(created)
	inc.UpdatedAt = timeFromUnix(updated)
	if resolvedAt.Valid {
		t := timeFromUnix(resolvedAt.Int64)
		inc.ResolvedAt = &t
	}
	if resolution.Valid {
		v := resolution.Int64
		inc.ResolutionSeconds = &v
	}
	return &inc, nil
}

func (r *SQLiteRepo) CreateIncident(ctx context.Context, inc *models.Incident) (string, error) {
	if inc == nil {
		return "", fmt.Errorf("incident is nil")
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Severity == "" {
		inc.Severity = models.SeverityMedium
	}
	if inc.Outcome == "" {
		inc.Outcome = models.OutcomePending
	}
	tags, _ := json.Marshal(tagsOrEmpty(inc.Tags))
	var embed any
	if len(inc.Embedding) > 0 {
		b, _ := json.Marshal(inc.Embedding)
		embed = string(b)
	}
	ts := now()
	inc.CreatedAt = timeFromUnix(ts)
	inc.UpdatedAt = inc.CreatedAt

	tx, err := r.conn.GetConn().BeginTx(ctx, nil)
	if err != nil {
		return "", &repository.DataError{Op: "create incident", Err: err}
	}
	q := `INSERT INTO incidents (` + incidentCols + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = tx.ExecContext(ctx, q, inc.ID, inc.UserID, inc.Source, inc.Severity,
		nullIfEmpty(inc.FailureType), inc.Outcome, inc.Confidence, inc.ErrorLog, inc.ErrorMessage,
		inc.StackTrace, inc.RootCause, inc.OutcomeMessage, inc.Context.Repository,
		inc.Context.Namespace, inc.Context.Service, string(tags), embed,
		boolToInt(inc.RemediationExecuted), ts, ts, unixPtr(inc.ResolvedAt), inc.ResolutionSeconds)
	if err != nil {
		_ = tx.Rollback()
		return "", &repository.DataError{Op: "create incident", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", &repository.DataError{Op: "create incident", Err: err}
	}

	return inc.ID, nil
}

func (r *SQLiteRepo) GetIncident(ctx context.Context, scope repository.OwnerScope, id string) (*models.Incident, error) {
	q := `SELECT ` + incidentCols + ` FROM incidents WHERE id = ?`
	args := []any{id}
	if !scope.Admin {
		q += ` AND user_id = ?`
		args = append(args, scope.UserID)
	}
	inc, err := scanIncident(r.conn.QueryRow(ctx, q, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return inc, nil
}

// UpdateIncident persists mutable diagnosis/outcome fields. Setting the
// outcome to success stamps resolved_at when not already set.
func (r *SQLiteRepo) UpdateIncident(ctx context.Context, scope repository.OwnerScope, inc *models.Incident) error {
	if inc == nil {
		return fmt.Errorf("incident is nil")
	}
	tags, _ := json.Marshal(tagsOrEmpty(inc.Tags))

	tx, err := r.conn.GetConn().BeginTx(ctx, nil)
	if err != nil {
		return &repository.DataError{Op: "update incident", Err: err}
	}
	q := `UPDATE incidents SET severity = ?, failure_type = ?, outcome = ?, confidence = ?, root_cause = ?, outcome_message = ?, tags = ?, remediation_executed = ?, updated = ? WHERE id = ?`
	args := []any{inc.Severity, nullIfEmpty(inc.FailureType), inc.Outcome, inc.Confidence,
		inc.RootCause, inc.OutcomeMessage, string(tags), boolToInt(inc.RemediationExecuted), now(), inc.ID}
	if !scope.Admin {
		q += ` AND user_id = ?`
		args = append(args, scope.UserID)
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		_ = tx.Rollback()
		return &repository.DataError{Op: "update incident", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		_ = tx.Rollback()
		return repository.ErrNotFound
	}
	if inc.Outcome == models.OutcomeSuccess {
		if _, err := tx.ExecContext(ctx, `UPDATE incidents SET resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`, now(), inc.ID); err != nil {
			_ = tx.Rollback()
			return &repository.DataError{Op: "update incident", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &repository.DataError{Op: "update incident", Err: err}
	}
	return nil
}

// DeleteIncident hard-deletes a row. Only reachable from admin endpoints.
func (r *SQLiteRepo) DeleteIncident(ctx context.Context, id string) error {
	res, err := r.conn.Exec(ctx, `DELETE FROM incidents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func incidentWhere(scope repository.OwnerScope, f repository.IncidentFilters) (string, []any) {
	var clauses []string
	var args []any
	if !scope.Admin {
		clauses = append(clauses, "user_id = ?")
		args = append(args, scope.UserID)
	} else if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Outcome != "" {
		if f.Outcome == models.OutcomePending {
			clauses = append(clauses, "(outcome = ? OR outcome IS NULL)")
		} else {
			clauses = append(clauses, "outcome = ?")
		}
		args = append(args, f.Outcome)
	}
	if f.FailureType != "" {
		clauses = append(clauses, "failure_type = ?")
		args = append(args, f.FailureType)
	}
	if f.CreatedAfter != nil {
		clauses = append(clauses, "created >= ?")
		args = append(args, f.CreatedAfter.UTC().Unix())
	}
	if f.CreatedBefore != nil {
		clauses = append(clauses, "created <= ?")
		args = append(args, f.CreatedBefore.UTC().Unix())
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		clauses = append(clauses, "(LOWER(error_log) LIKE ? OR LOWER(error_message) LIKE ? OR LOWER(root_cause) LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.MinConfidence != nil {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, *f.MinConfidence)
	}
	if f.MaxConfidence != nil {
		clauses = append(clauses, "confidence <= ?")
		args = append(args, *f.MaxConfidence)
	}
	if f.Repository != "" {
		clauses = append(clauses, "repository = ?")
		args = append(args, f.Repository)
	}
	if f.Namespace != "" {
		clauses = append(clauses, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, f.Service)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *SQLiteRepo) ListIncidents(ctx context.Context, scope repository.OwnerScope, page repository.Page, f repository.IncidentFilters) ([]models.Incident, int64, error) {
	where, args := incidentWhere(scope, f)

	var total int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	if page.Limit <= 0 {
		page.Limit = 50
	}
	q := `SELECT ` + incidentCols + ` FROM incidents` + where + ` ORDER BY created DESC LIMIT ? OFFSET ?`
	rows, err := r.conn.QueryRows(ctx, q, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inc)
	}
	return out, total, rows.Err()
}

func (r *SQLiteRepo) IncidentStats(ctx context.Context, scope repository.OwnerScope, after, before *time.Time) (*repository.IncidentStats, error) {
	where, args := incidentWhere(scope, repository.IncidentFilters{CreatedAfter: after, CreatedBefore: before})

	stats := &repository.IncidentStats{
		BySource:      map[string]int64{},
		BySeverity:    map[string]int64{},
		ByFailureType: map[string]int64{},
	}

	var avg sql.NullFloat64
	q := `SELECT COUNT(1),
		SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'pending' OR outcome IS NULL THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'escalated' THEN 1 ELSE 0 END),
		AVG(CASE WHEN outcome = 'success' AND resolution_seconds IS NOT NULL THEN resolution_seconds END)
		FROM incidents` + where
	var succ, pend, fail, esc sql.NullInt64
	if err := r.conn.QueryRow(ctx, q, args...).Scan(&stats.Total, &succ, &pend, &fail, &esc, &avg); err != nil {
		return nil, fmt.Errorf("incident stats: %w", err)
	}
	stats.Successes = succ.Int64
	stats.Pending = pend.Int64
	stats.Failed = fail.Int64
	stats.Escalated = esc.Int64
	if stats.Total > 0 {
		rate := float64(stats.Successes) / float64(stats.Total) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	if avg.Valid {
		v := avg.Float64
		stats.AvgResolutionSecs = &v
	}

	for _, g := range []struct {
		col  string
		dest map[string]int64
	}{
		{"source", stats.BySource},
		{"severity", stats.BySeverity},
		{"failure_type", stats.ByFailureType},
	} {
		gq := `SELECT ` + g.col + `, COUNT(1) FROM incidents` + where
		if g.col == "failure_type" {
			if where == "" {
				gq += ` WHERE failure_type IS NOT NULL`
			} else {
				gq += ` AND failure_type IS NOT NULL`
			}
		}
		gq += ` GROUP BY ` + g.col
		rows, err := r.conn.QueryRows(ctx, gq, args...)
		if err != nil {
			return nil, fmt.Errorf("incident stats group by %s: %w", g.col, err)
		}
		for rows.Next() {
			var key sql.NullString
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			if key.Valid && key.String != "" {
				g.dest[key.String] = n
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return stats, nil
}

// sortColumns whitelists user-supplied sort fields for advanced search.
var sortColumns = map[string]string{
	"created_at": "created",
	"updated_at": "updated",
	"severity":   "severity",
	"confidence": "confidence",
	"source":     "source",
}

func (r *SQLiteRepo) AdvancedSearch(ctx context.Context, userID string, c repository.SearchCriteria) (*repository.SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("advanced search requires a user id")
	}

	clauses := []string{"user_id = ?"}
	args := []any{userID}

	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		clauses = append(clauses, col+" IN ("+ph+")")
		for _, v := range vals {
			args = append(args, v)
		}
	}
	addIn("source", c.Sources)
	addIn("severity", c.Severities)
	addIn("outcome", c.Outcomes)
	addIn("failure_type", c.FailureTypes)

	if len(c.Tags) > 0 {
		// Tags are stored as a serialized JSON list; membership is a
		// substring containment check against that serialization.
		var tagClauses []string
		for _, tag := range c.Tags {
			tagClauses = append(tagClauses, "tags LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
	}
	if c.Repository != "" {
		clauses = append(clauses, "repository = ?")
		args = append(args, c.Repository)
	}
	if c.MinConfidence != nil {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, *c.MinConfidence)
	}
	if c.MaxConfidence != nil {
		clauses = append(clauses, "confidence <= ?")
		args = append(args, *c.MaxConfidence)
	}
	if c.CreatedAfter != nil {
		clauses = append(clauses, "created >= ?")
		args = append(args, c.CreatedAfter.UTC().Unix())
	}
	if c.CreatedBefore != nil {
		clauses = append(clauses, "created <= ?")
		args = append(args, c.CreatedBefore.UTC().Unix())
	}
	if c.FreeText != "" {
		like := "%" + strings.ToLower(c.FreeText) + "%"
		clauses = append(clauses, "(LOWER(error_log) LIKE ? OR LOWER(error_message) LIKE ? OR LOWER(stack_trace) LIKE ? OR LOWER(root_cause) LIKE ?)")
		args = append(args, like, like, like, like)
	}

	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("advanced search count: %w", err)
	}

	sortCol, ok := sortColumns[c.SortBy]
	if !ok {
		sortCol = "created"
	}
	dir := "ASC"
	if c.SortDesc || c.SortBy == "" {
		dir = "DESC"
	}

	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.Page <= 0 {
		c.Page = 1
	}
	offset := (c.Page - 1) * c.PageSize

	q := `SELECT ` + incidentCols + ` FROM incidents` + where +
		` ORDER BY ` + sortCol + ` ` + dir + ` LIMIT ? OFFSET ?`
	rows, err := r.conn.QueryRows(ctx, q, append(args, c.PageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("advanced search: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int((total + int64(c.PageSize) - 1) / int64(c.PageSize))
	res := &repository.SearchResult{
		Incidents:   incidents,
		Total:       total,
		Page:        c.Page,
		PageSize:    c.PageSize,
		TotalPages:  totalPages,
		HasNext:     c.Page < totalPages,
		HasPrevious: c.Page > 1,
	}
	if res.HasNext {
		cur := pageCursor(c.Page + 1)
		res.NextCursor = &cur
	}
	if res.HasPrevious {
		cur := pageCursor(c.Page - 1)
		res.PreviousCursor = &cur
	}
	return res, nil
}

// pageCursor encodes a page number as an opaque cursor. It carries no
// authority; it only spares clients the page arithmetic.
func pageCursor(page int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(page)))
}

// DecodePageCursor reverses pageCursor.
func DecodePageCursor(cursor string) (int, error) {
	b, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("bad cursor: %w", err)
	}
	page, err := strconv.Atoi(string(b))
	if err != nil || page < 1 {
		return 0, fmt.Errorf("bad cursor value %q", string(b))
	}
	return page, nil
}

func (r *SQLiteRepo) SimilarIncidents(ctx context.Context, embedding []float64, limit int, minSimilarity float64, excludeID, ownerID string) ([]repository.SimilarIncident, error) {
	if limit <= 0 {
		limit = 5
	}
	q := `SELECT ` + incidentCols + ` FROM incidents WHERE outcome = 'success' AND embedding IS NOT NULL`
	var args []any
	if excludeID != "" {
		q += ` AND id != ?`
		args = append(args, excludeID)
	}
	if ownerID != "" {
		q += ` AND user_id = ?`
		args = append(args, ownerID)
	}
	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("similar incidents: %w", err)
	}
	defer rows.Close()

	var ranked []repository.SimilarIncident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(embedding, inc.Embedding)
		ranked = append(ranked, repository.SimilarIncident{Incident: *inc, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })

	// Over-fetch 2x the limit before thresholding so borderline rejects
	// do not starve the result set.
	if len(ranked) > 2*limit {
		ranked = ranked[:2*limit]
	}
	out := make([]repository.SimilarIncident, 0, limit)
	for _, s := range ranked {
		if s.Similarity < minSimilarity {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (r *SQLiteRepo) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	b, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	res, err := r.conn.Exec(ctx, `UPDATE incidents SET embedding = ?, updated = ? WHERE id = ?`, string(b), now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// BulkAssign reassigns incidents to a user with a single set-based UPDATE.
func (r *SQLiteRepo) BulkAssign(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{userID, now()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.conn.Exec(ctx, `UPDATE incidents SET user_id = ?, updated = ? WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, &repository.DataError{Op: "bulk assign", Err: err}
	}
	return res.RowsAffected()
}

// BulkUpdateOutcome sets the outcome on a set of incidents. Transitioning
// to success stamps resolved_at on rows that lack one.
func (r *SQLiteRepo) BulkUpdateOutcome(ctx context.Context, ids []string, outcome, message string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := `UPDATE incidents SET outcome = ?, updated = ?`
	args := []any{outcome, now()}
	if message != "" {
		q += `, outcome_message = ?`
		args = append(args, message)
	}
	if outcome == models.OutcomeSuccess {
		q += `, resolved_at = COALESCE(resolved_at, ?)`
		args = append(args, now())
	}
	q += ` WHERE id IN (` + ph + `)`
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.conn.Exec(ctx, q, args...)
	if err != nil {
		return 0, &repository.DataError{Op: "bulk update outcome", Err: err}
	}
	return res.RowsAffected()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
