package writer_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
	"github.com/glassflow/cassandra-dataset-etl/tests/testutils"
)

type TestConfig struct {
	FeaturePaths []string
	Tags         string
	Format       string
}

type WriterTestSuite struct {
	tableCfg schema.TableConfig
	sess     *testutils.FakeSession
	w        *writer.Writer
	lastErr  error
}

func NewWriterTestSuite() *WriterTestSuite {
	return &WriterTestSuite{} //nolint:exhaustruct // filled by steps
}

func (s *WriterTestSuite) SetupResources() error { return nil }

func (s *WriterTestSuite) CleanupResources() error {
	if s.sess != nil {
		return s.sess.Close()
	}
	return nil
}

func (s *WriterTestSuite) aWriterForTablesWithColumns(metaTable, dataTable string, columns *godog.Table) error {
	s.tableCfg = schema.TableConfig{ //nolint:exhaustruct // defaults for id, label, data columns
		MetadataTable: metaTable,
		DataTable:     dataTable,
		LabelKind:     schema.LabelInt,
	}

	for i, row := range columns.Rows {
		if i == 0 {
			continue // header
		}
		if len(row.Cells) != 2 {
			return fmt.Errorf("column row %d: want name and type", i)
		}
		s.tableCfg.Columns = append(s.tableCfg.Columns, schema.Column{
			Name: row.Cells[0].Value,
			Type: schema.DataType(row.Cells[1].Value),
		})
	}

	return nil
}

func (s *WriterTestSuite) aConcurrencyLimitOf(limit int) error {
	mapper, err := schema.NewMapper(s.tableCfg)
	if err != nil {
		return fmt.Errorf("create mapper: %w", err)
	}

	s.sess = testutils.NewFakeSession()
	s.w, err = writer.New(context.Background(), s.sess, mapper, nil, writer.BatchConfig{Concurrency: limit}) //nolint:exhaustruct // default timeout and profile
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	return nil
}

func parseItem(partition string, label int, payload string) (writer.Item, error) {
	data, err := hex.DecodeString(payload)
	if err != nil {
		return writer.Item{}, fmt.Errorf("decode payload: %w", err)
	}

	var values []any
	for _, v := range strings.Split(partition, ",") {
		values = append(values, strings.TrimSpace(v))
	}

	return writer.Item{Label: writer.IntLabel(int64(label)), Payload: data, Partition: values}, nil
}

func (s *WriterTestSuite) iSubmitImages(count int, partition string, label int, payload string) error {
	item, err := parseItem(partition, label, payload)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if _, s.lastErr = s.w.Submit(context.Background(), item); s.lastErr != nil {
			if writer.IsValidationErr(s.lastErr) {
				return nil
			}
			return fmt.Errorf("submit image %d: %w", i, s.lastErr)
		}
	}

	return nil
}

func (s *WriterTestSuite) iWriteOneImage(partition string, label int, payload string) error {
	item, err := parseItem(partition, label, payload)
	if err != nil {
		return err
	}

	_, err = s.w.Write(context.Background(), item)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	return nil
}

func (s *WriterTestSuite) iFlushTheWriter() error {
	if err := s.w.Flush(context.Background()); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (s *WriterTestSuite) theQueueHoldsRecords(n int) error {
	if got := s.w.Pending(); got != n {
		return fmt.Errorf("expected %d queued records, got %d", n, got)
	}
	return nil
}

func (s *WriterTestSuite) batchesFor(table string) []testutils.Call {
	var batches []testutils.Call
	for _, c := range s.sess.Calls() {
		if c.Batch && c.Table == table {
			batches = append(batches, c)
		}
	}
	return batches
}

func (s *WriterTestSuite) theStoreReceivedBatchOfRows(n, rows int, table string) error {
	batches := s.batchesFor(table)
	if len(batches) != n {
		return fmt.Errorf("expected %d batches for %s, got %d", n, table, len(batches))
	}
	for _, b := range batches {
		if len(b.Rows) != rows {
			return fmt.Errorf("expected %d rows per batch for %s, got %d", rows, table, len(b.Rows))
		}
	}
	return nil
}

func (s *WriterTestSuite) theStoreReceivedBatches(n int, table string) error {
	if got := len(s.batchesFor(table)); got != n {
		return fmt.Errorf("expected %d batches for %s, got %d", n, table, got)
	}
	return nil
}

func (s *WriterTestSuite) noMoreThanWritesWereInFlight(limit int) error {
	if peak := s.sess.PeakConcurrency(); peak > limit {
		return fmt.Errorf("peak of %d in-flight writes exceeds %d", peak, limit)
	}
	return nil
}

func (s *WriterTestSuite) everyMetadataRowHasAMatchingDataRow() error {
	data := make(map[uuid.UUID]bool)
	for _, row := range s.sess.Rows(s.tableCfg.DataTable) {
		data[row[0].(uuid.UUID)] = true //nolint:forcetypeassert // id is bound first
	}

	meta := s.sess.Rows(s.tableCfg.MetadataTable)
	if len(meta) != len(data) {
		return fmt.Errorf("%d metadata rows but %d data rows", len(meta), len(data))
	}
	for _, row := range meta {
		if !data[row[0].(uuid.UUID)] { //nolint:forcetypeassert // id is bound first
			return fmt.Errorf("metadata row %v has no data row", row[0])
		}
	}

	return nil
}

func (s *WriterTestSuite) theStoreSawBefore(first, second string) error {
	calls := s.sess.Calls()
	if len(calls) != 2 {
		return fmt.Errorf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Table != first || calls[1].Table != second {
		return fmt.Errorf("expected %s then %s, got %s then %s", first, second, calls[0].Table, calls[1].Table)
	}
	return nil
}

func (s *WriterTestSuite) theLastErrorIsAValidationError() error {
	if !writer.IsValidationErr(s.lastErr) {
		return fmt.Errorf("expected validation error, got %v", s.lastErr)
	}
	return nil
}

func (s *WriterTestSuite) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a writer for tables "([^"]*)" and "([^"]*)" with columns$`, s.aWriterForTablesWithColumns)
	sc.Step(`^a concurrency limit of (\d+)$`, s.aConcurrencyLimitOf)
	sc.Step(`^I submit (\d+) images with partition "([^"]*)", label (\d+) and payload "([^"]*)"$`, s.iSubmitImages)
	sc.Step(`^I write one image with partition "([^"]*)", label (\d+) and payload "([^"]*)"$`, s.iWriteOneImage)
	sc.Step(`^I flush the writer$`, s.iFlushTheWriter)
	sc.Step(`^the queue holds (\d+) records$`, s.theQueueHoldsRecords)
	sc.Step(`^the store received (\d+) batch of (\d+) rows for "([^"]*)"$`, s.theStoreReceivedBatchOfRows)
	sc.Step(`^the store received (\d+) batches for "([^"]*)"$`, s.theStoreReceivedBatches)
	sc.Step(`^no more than (\d+) writes were in flight$`, s.noMoreThanWritesWereInFlight)
	sc.Step(`^every metadata row has a matching data row$`, s.everyMetadataRowHasAMatchingDataRow)
	sc.Step(`^the store saw "([^"]*)" before "([^"]*)"$`, s.theStoreSawBefore)
	sc.Step(`^the last error is a validation error$`, s.theLastErrorIsAValidationError)
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.lastErr = nil
		return ctx, nil
	})
}

func runSingleSuite(
	t *testing.T,
	name string,
	testSuite interface {
		RegisterSteps(*godog.ScenarioContext)
		SetupResources() error
		CleanupResources() error
	},
	config TestConfig,
) {
	t.Helper()

	envTags := os.Getenv("TEST_TAGS")
	if envTags != "" {
		config.Tags = envTags
	}

	opts := godog.Options{
		Format:   config.Format,
		Paths:    config.FeaturePaths,
		TestingT: t,
		Tags:     config.Tags,
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(s *godog.ScenarioContext) {
			testSuite.RegisterSteps(s)
		},
		TestSuiteInitializer: func(ts *godog.TestSuiteContext) {
			ts.BeforeSuite(func() {
				if err := testSuite.SetupResources(); err != nil {
					t.Fatalf("Error setting up %s resources: %v", name, err)
				}
			})
			ts.AfterSuite(func() {
				if err := testSuite.CleanupResources(); err != nil {
					t.Logf("Error cleaning up %s resources: %v", name, err)
				}
			})
		},
		Options: &opts,
	}

	if suite.Run() != 0 {
		t.Fatalf("non-zero status returned, failed to run %s tests", name)
	}
}

func TestWriterFeatures(t *testing.T) {
	config := TestConfig{
		FeaturePaths: []string{"features"},
		Tags:         "@writer",
		Format:       "pretty",
	}

	runSingleSuite(t, "writer", NewWriterTestSuite(), config)
}
