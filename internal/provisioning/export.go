package provisioning

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/platform/httpx"
	"github.com/atlaslending/provisioning/internal/shared"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	_, err := s.buf.WriteString(line)
	return err
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

func writeStageHistoryCSV(w io.Writer, caseID uuid.UUID, history []StageHistory, generatedAt time.Time) error {
	streamer := newCSVStreamer(w)
	if err := streamer.writeComment("# Report: Stage Transition History"); err != nil {
		return err
	}
	if err := streamer.writeComment(fmt.Sprintf("# Case: %s | Generated: %s | Rows: %d", caseID, generatedAt.UTC().Format(time.RFC3339), len(history))); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"Changed At", "Old Stage", "New Stage", "ECL At Change", "Changed By", "Reason"}); err != nil {
		return err
	}
	for _, entry := range history {
		if err := streamer.writeRow([]string{
			entry.ChangedAt.UTC().Format(time.RFC3339),
			string(entry.OldStage),
			string(entry.NewStage),
			ledger.FormatAmount(entry.ECLAtChange),
			entry.ChangedBy,
			entry.Reason,
		}); err != nil {
			return err
		}
	}
	return streamer.Close()
}

func (h *Handler) exportStageHistory(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	history, err := h.service.ListStageHistory(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"stage-history-%s.csv\"", caseID))
	if err := writeStageHistoryCSV(w, caseID, history, time.Now()); err != nil {
		h.logger.Error("export stage history", "error", err, "case_id", caseID.String())
	}
}
