package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tessera/internal/collage"
	"tessera/internal/errors"
	"tessera/internal/jobstore"
	"tessera/internal/pipeline"
)

const maxUploadBytes = 256 << 20

// CreateResponse is returned when a job is accepted.
type CreateResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	ImageURL  string `json:"image_url"`
}

// createRequest is the JSON form of a job submission: server-side input
// paths plus any parameter overrides.
type createRequest struct {
	Inputs []string `json:"inputs"`
	collage.Params
}

// setupCollageRoutes adds the collage job endpoints.
func (s *Server) setupCollageRoutes(r *mux.Router) {
	r.HandleFunc("/collages", s.handleCreate).Methods("POST")
	r.HandleFunc("/collages/{id}", s.handleStatus).Methods("GET")
	r.HandleFunc("/collages/{id}/image", s.handleImage).Methods("GET")
}

// handleCreate validates a submission synchronously and queues it.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	inputs, params, err := s.parseCreate(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	job, err := collage.NewJob(id, inputs, params, s.opts.OutputDir, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Pipeline.Submit(job); err != nil {
		if stderrors.Is(err, pipeline.ErrQueueFull) || stderrors.Is(err, pipeline.ErrStopped) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errors.UserMessage(err), Code: errors.GetCode(err)})
			return
		}
		writeError(w, err)
		return
	}

	s.log.Info("collage queued", "id", id, "inputs", len(inputs), "params", job.Params.String())
	writeJSON(w, http.StatusAccepted, CreateResponse{
		JobID:     id,
		StatusURL: "/collages/" + id,
		ImageURL:  "/collages/" + id + "/image",
	})
}

func (s *Server) parseCreate(w http.ResponseWriter, r *http.Request) ([]collage.Input, collage.Params, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.parseMultipart(w, r)
	case "application/json", "":
		req := createRequest{Params: s.opts.Defaults}
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		if err := dec.Decode(&req); err != nil {
			return nil, collage.Params{}, errors.Wrap(errors.ErrCodeValidation, err, "invalid JSON body")
		}
		paths, err := s.resolveInputs(req.Inputs)
		if err != nil {
			return nil, collage.Params{}, err
		}
		return collage.PathInputs(paths), req.Params, nil
	default:
		return nil, collage.Params{}, errors.Validation("unsupported content type %q", mediaType)
	}
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) ([]collage.Input, collage.Params, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, collage.Params{}, errors.Wrap(errors.ErrCodeValidation, err, "invalid multipart body")
	}
	defer r.MultipartForm.RemoveAll()

	var inputs []collage.Input
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return nil, collage.Params{}, errors.Wrap(errors.ErrCodeValidation, err, "read upload %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, collage.Params{}, errors.Wrap(errors.ErrCodeValidation, err, "read upload %s", fh.Filename)
		}
		inputs = append(inputs, collage.Input{Name: fh.Filename, Data: data})
	}

	params, err := paramsFromForm(r.MultipartForm.Value, s.opts.Defaults)
	return inputs, params, err
}

// resolveInputs maps each requested path to a file beneath InputRoot.
// Relative paths are taken from the root. Paths that leave the root,
// lexically or through a symlink, are rejected.
func (s *Server) resolveInputs(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if s.opts.InputRoot == "" {
		return nil, errors.Validation("path inputs are disabled on this server; upload the images instead")
	}
	root, err := filepath.Abs(s.opts.InputRoot)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "resolve input root")
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}

	out := make([]string, len(paths))
	for i, p := range paths {
		candidate := p
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		candidate = filepath.Clean(candidate)
		if !within(root, candidate) {
			return nil, errors.Validation("input %q is outside the input root", p)
		}
		if real, err := filepath.EvalSymlinks(candidate); err == nil && !within(realRoot, real) {
			return nil, errors.Validation("input %q is outside the input root", p)
		}
		out[i] = candidate
	}
	return out, nil
}

// within reports whether path is dir or lies beneath it. Both must be
// absolute and clean.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// paramsFromForm overlays form fields on defaults. Unknown fields are ignored.
func paramsFromForm(form map[string][]string, p collage.Params) (collage.Params, error) {
	get := func(key string) (string, bool) {
		v := form[key]
		if len(v) == 0 || strings.TrimSpace(v[0]) == "" {
			return "", false
		}
		return strings.TrimSpace(v[0]), true
	}
	ints := map[string]*int{
		"rows":       &p.Rows,
		"cols":       &p.Cols,
		"resize_w":   &p.ResizeW,
		"pad_px":     &p.PadPx,
		"jitter_px":  &p.JitterPx,
		"rotate_deg": &p.RotateDeg,
		"quality":    &p.Quality,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return p, errors.Validation("%s must be an integer, got %q", key, v)
			}
			*dst = n
		}
	}
	bools := map[string]*bool{
		"allow_self": &p.AllowSelf,
		"return_map": &p.ReturnMap,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return p, errors.Validation("%s must be a boolean, got %q", key, v)
			}
			*dst = b
		}
	}
	if v, ok := get("mode"); ok {
		p.Mode = collage.Mode(v)
	}
	if v, ok := get("base"); ok {
		p.Base = collage.BasePolicy(v)
	}
	if v, ok := get("format"); ok {
		p.Format = collage.Format(v)
	}
	if v, ok := get("seed"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Validation("seed must be an integer, got %q", v)
		}
		p.Seed = &seed
	}
	return p, nil
}

// handleStatus reports progress, and the result or error once done.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Status.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleImage serves the composite of a completed job.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Status.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !snap.Done || snap.Status != jobstore.StatusCompleted || snap.Result == nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: "collage is not ready", Code: errors.ErrCodeValidation})
		return
	}

	out := snap.Result.Output
	f, err := os.Open(out.Path)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeNotFound, err, "collage image for %s", snap.ID))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", out.Format.MimeType())
	http.ServeContent(w, r, snap.ID+"."+out.Format.Ext(), info.ModTime(), f)
}
