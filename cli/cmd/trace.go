package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/ansi"
	"github.com/pithecene-io/joblog/cli/render"
	"github.com/pithecene-io/joblog/iox"
	"github.com/pithecene-io/joblog/section"
	"github.com/pithecene-io/joblog/stream"
	"github.com/pithecene-io/joblog/types"
)

// WriteResponse is the response for the write command.
type WriteResponse struct {
	JobID  types.JobID  `json:"job_id"`
	Offset int64        `json:"offset"`
	Size   render.Bytes `json:"size"`
}

// WriteCommand returns the write command.
// It appends stdin to the live trace of a job.
func WriteCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "Append stdin to the live trace of a job",
		Flags: TraceFlags(
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "Write at this offset, truncating anything after it (default: end of trace)",
			},
		),
		Action: withEnv(writeAction),
	}
}

func writeAction(c *cli.Context, e *env) error {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	offset := c.Int64("offset")
	if !c.IsSet("offset") {
		s, err := e.service.Open(c.Context, ref.ID)
		if err != nil {
			return err
		}
		offset, err = s.Size()
		iox.DiscardErr(s.Close)
		if err != nil {
			return err
		}
	}

	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	size, err := e.service.Append(c.Context, ref.ID, data, offset)
	if err != nil {
		return err
	}
	return r.Render(WriteResponse{JobID: ref.ID, Offset: offset, Size: render.Bytes(size)})
}

// RawCommand returns the raw command.
func RawCommand() *cli.Command {
	return &cli.Command{
		Name:  "raw",
		Usage: "Print the trace of a job as text",
		Flags: TraceFlags(
			&cli.IntFlag{
				Name:  "last-lines",
				Usage: "Print only the last N lines",
			},
			&cli.Int64Flag{
				Name:  "limit",
				Usage: "Print at most the trailing N bytes, cut at a line start",
				Value: -1,
			},
		),
		Action: withEnv(rawAction),
	}
}

func rawAction(c *cli.Context, e *env) error {
	return withStream(c, e, func(s *stream.Stream, r *render.Renderer) error {
		if c.IsSet("limit") {
			if err := s.Limit(c.Int64("limit")); err != nil {
				return err
			}
		}
		text, err := s.Raw(c.Int("last-lines"))
		if err != nil {
			return err
		}
		return r.Text(text)
	})
}

// HTMLResponse is the response for the html command.
type HTMLResponse struct {
	HTML   string `json:"html"`
	State  string `json:"state"`
	Append bool   `json:"append"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// HTMLCommand returns the html command.
// Passing back the state of a previous call renders only what was
// appended since.
func HTMLCommand() *cli.Command {
	return &cli.Command{
		Name:  "html",
		Usage: "Render the trace of a job as HTML",
		Flags: TraceFlags(
			&cli.StringFlag{
				Name:  "state",
				Usage: "State token of a previous render to continue from",
			},
			&cli.Int64Flag{
				Name:  "limit",
				Usage: "Render at most the trailing N bytes when not resuming",
				Value: -1,
			},
		),
		Action: withEnv(htmlAction),
	}
}

func htmlAction(c *cli.Context, e *env) error {
	var prev *ansi.State
	if token := c.String("state"); token != "" {
		st, err := ansi.DecodeState(token)
		if err != nil {
			return fmt.Errorf("invalid --state: %w", err)
		}
		prev = &st
	}

	return withStream(c, e, func(s *stream.Stream, r *render.Renderer) error {
		if prev == nil && c.IsSet("limit") {
			if err := s.Limit(c.Int64("limit")); err != nil {
				return err
			}
		}
		res, err := s.HTMLWithState(prev)
		if err != nil {
			return err
		}
		token, err := res.State.Encode()
		if err != nil {
			return err
		}
		return r.Render(HTMLResponse{
			HTML:   res.HTML,
			State:  token,
			Append: res.Append,
			Offset: res.Offset,
			Size:   res.Size,
		})
	})
}

// SectionsCommand returns the sections command.
func SectionsCommand() *cli.Command {
	return &cli.Command{
		Name:   "sections",
		Usage:  "List the collapsible sections of a job trace",
		Flags:  TraceFlags(),
		Action: withEnv(sectionsAction),
	}
}

func sectionsAction(c *cli.Context, e *env) error {
	return withStream(c, e, func(s *stream.Stream, r *render.Renderer) error {
		sections, err := s.ExtractSections()
		if err != nil {
			return err
		}
		if sections == nil {
			sections = []section.Section{}
		}
		return r.Render(sections)
	})
}

// CoverageResponse is the response for the coverage command.
type CoverageResponse struct {
	JobID    types.JobID `json:"job_id"`
	Found    bool        `json:"found"`
	Coverage string      `json:"coverage,omitempty"`
}

// CoverageCommand returns the coverage command.
func CoverageCommand() *cli.Command {
	return &cli.Command{
		Name:  "coverage",
		Usage: "Extract the test coverage value from a job trace",
		Flags: TraceFlags(
			&cli.StringFlag{
				Name:     "regex",
				Usage:    "Coverage pattern; the first capture group is the value",
				Required: true,
			},
		),
		Action: withEnv(coverageAction),
	}
}

func coverageAction(c *cli.Context, e *env) error {
	return withStream(c, e, func(s *stream.Stream, r *render.Renderer) error {
		value, found, err := s.ExtractCoverage(c.String("regex"))
		if err != nil {
			return err
		}
		return r.Render(CoverageResponse{
			JobID:    types.JobID(c.Int64("job")),
			Found:    found,
			Coverage: value,
		})
	})
}

// VerifyResponse is the response for the verify command.
type VerifyResponse struct {
	JobID         types.JobID  `json:"job_id"`
	Valid         bool         `json:"valid"`
	Corrupted     bool         `json:"corrupted"`
	CRC32         uint32       `json:"crc32"`
	ExpectedCRC32 *uint32      `json:"expected_crc32,omitempty"`
	Size          render.Bytes `json:"size"`
	ExpectedSize  *uint64      `json:"expected_size,omitempty"`
	Chunks        int          `json:"chunks"`
	Missing       []uint32     `json:"missing,omitempty"`
}

// VerifyCommand returns the verify command.
// It checksums the live chunks of a job against the recorded pending state.
// A trace that does not verify exits with status 1.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "Validate the live chunks of a job against the written checksum",
		Flags:  TraceFlags(),
		Action: withEnv(verifyAction),
	}
}

func verifyAction(c *cli.Context, e *env) error {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	res, err := e.service.Checksum(c.Context, ref.ID)
	if err != nil {
		return err
	}
	resp := VerifyResponse{
		JobID:     ref.ID,
		Valid:     res.Valid(),
		Corrupted: res.Corrupted(),
		CRC32:     res.CRC32,
		Size:      render.Bytes(res.TraceSize),
		Chunks:    res.Chunks,
		Missing:   res.Missing,
	}
	if res.Expected != nil {
		resp.ExpectedCRC32 = &res.Expected.ExpectedCRC32
		resp.ExpectedSize = &res.Expected.ExpectedBytesize
	}
	if err := r.Render(resp); err != nil {
		return err
	}
	if !resp.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

// EraseResponse is the response for the erase command.
type EraseResponse struct {
	JobID  types.JobID `json:"job_id"`
	Erased bool        `json:"erased"`
}

// EraseCommand returns the erase command.
func EraseCommand() *cli.Command {
	return &cli.Command{
		Name:   "erase",
		Usage:  "Delete the live chunks, artifact and metadata of a job trace",
		Flags:  TraceFlags(),
		Action: withEnv(eraseAction),
	}
}

func eraseAction(c *cli.Context, e *env) error {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := e.service.Erase(c.Context, ref.ID); err != nil {
		return err
	}
	return r.Render(EraseResponse{JobID: ref.ID, Erased: true})
}

// withStream opens the trace of --job for fn and closes it afterwards.
func withStream(c *cli.Context, e *env, fn func(s *stream.Stream, r *render.Renderer) error) (err error) {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	s, err := e.service.Open(c.Context, ref.ID)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s, r)
}
