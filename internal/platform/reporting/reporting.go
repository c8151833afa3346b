package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/rxlearn/rxlearn/internal/platform/auth"
)

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Columns     []string                 `json:"columns"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "requests-by-status",
		Name:        "Drug Requests by Status",
		Description: "Number of drug requests per status, split by whether they sit in a batch",
		SQL: `SELECT status, (batch_id IS NOT NULL) AS batched, COUNT(*) AS total
			FROM drug_request GROUP BY status, batched ORDER BY status, batched`,
	},
	{
		ID:          "batches-by-status",
		Name:        "Drug Batches by Status",
		Description: "Number of batches per status with their total processing attempts",
		SQL: `SELECT status, COUNT(*) AS total, COALESCE(SUM(attempts), 0) AS attempts
			FROM drug_batch GROUP BY status ORDER BY status`,
	},
	{
		ID:          "drugs-by-class",
		Name:        "Library Drugs by Class",
		Description: "Number of library drugs per pharmacologic class",
		SQL: `SELECT c.name AS drug_class, COUNT(d.id) AS total
			FROM drug_class c LEFT JOIN drug d ON d.class_id = c.id
			GROUP BY c.name ORDER BY total DESC, c.name`,
	},
	{
		ID:          "top-pending-names",
		Name:        "Most Requested Pending Drugs",
		Description: "Pending drug names ordered by how many students asked for them",
		SQL: `SELECT lower(drug_name) AS drug_name, COUNT(*) AS requests, COUNT(DISTINCT requested_by) AS students
			FROM drug_request WHERE status = 'pending'
			GROUP BY lower(drug_name) ORDER BY requests DESC, drug_name LIMIT 50`,
	},
}

// Querier is the subset of pgxpool.Pool used to evaluate measures.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	db Querier
}

// NewHandler creates a new reporting handler.
func NewHandler(db Querier) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/admin/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleInstructor))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results as JSON,
// or as a workbook when format=xlsx.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	format := c.QueryParam("format")
	if format != "" && format != "json" && format != "xlsx" {
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or xlsx")
	}

	report, err := h.Evaluate(c.Request().Context(), measure)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	if format == "xlsx" {
		data, err := WriteXLSX(report.Table())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, Attachment(measure.ID+".xlsx"))
		return c.Blob(http.StatusOK, XLSXContentType, data)
	}
	return c.JSON(http.StatusOK, report)
}

// Evaluate runs the measure query.
func (h *Handler) Evaluate(ctx context.Context, measure *MeasureDefinition) (*MeasureReport, error) {
	rows, err := h.db.Query(ctx, measure.SQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now().UTC(),
		Columns:     columns,
		Results:     results,
	}, nil
}

// Table lays the report out as a worksheet in column order.
func (r *MeasureReport) Table() Table {
	rows := make([][]interface{}, len(r.Results))
	for i, res := range r.Results {
		row := make([]interface{}, len(r.Columns))
		for j, col := range r.Columns {
			row[j] = res[col]
		}
		rows[i] = row
	}
	return Table{Sheet: sheetName(r.MeasureName), Headers: r.Columns, Rows: rows}
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// sheetName trims to the 31 characters a worksheet name may hold.
func sheetName(name string) string {
	r := []rune(name)
	if len(r) > 31 {
		r = r[:31]
	}
	return string(r)
}

// Attachment is the Content-Disposition value for a downloaded file.
func Attachment(filename string) string {
	return "attachment; filename=" + strconv.Quote(filename)
}
