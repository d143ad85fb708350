package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/passport/internal/types"
	"github.com/andresmejia3/passport/internal/utils"
	"github.com/disintegration/imaging"
)

// Op selects the model the Python side runs on a request.
type Op byte

const (
	OpDetect  Op = 'D'
	OpSegment Op = 'S'
)

// ErrWorker marks an error reported by the Python side (status byte 1).
var ErrWorker = errors.New("python worker error")

// MaxResponseBytes bounds one response frame. A 16k x 16k mask fits.
const MaxResponseBytes = 1 << 30

// Smallest encoding of one face: box, score and keypoint count.
const minFaceBytes = 4*4 + 4 + 4

// Config locates the interpreter and script.
type Config struct {
	Python string
	Script string
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = "python/worker.py"
	}
	py := utils.NewSafeCommand(ctx, python, "-u", script)

	// Responses come back on FD 3 so library chatter on stdout cannot corrupt them.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end.
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
// Frame: [Length uint32 BE][Body].
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed interpreter surfaces here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > MaxResponseBytes {
		return nil, fmt.Errorf("%w: response of %d bytes exceeds %d", ErrWorker, respLen, MaxResponseBytes)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// encodeRequest builds [Op][W uint32][H uint32][RGBA bytes].
func encodeRequest(op Op, img image.Image) []byte {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	buf := bytes.NewBuffer(make([]byte, 0, 9+len(nrgba.Pix)))
	buf.WriteByte(byte(op))
	binary.Write(buf, binary.BigEndian, uint32(b.Dx()))
	binary.Write(buf, binary.BigEndian, uint32(b.Dy()))
	buf.Write(nrgba.Pix)
	return buf.Bytes()
}

// readStatus consumes the status byte and turns status 1 into an error.
// Protocol: [Status:1][MsgLen uint32][Msg]
func readStatus(r *bytes.Reader) error {
	status, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("empty response: %w", err)
	}
	if status == 0 {
		return nil
	}
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return fmt.Errorf("%w: status %d", ErrWorker, status)
	}
	if int64(msgLen) > int64(r.Len()) {
		return fmt.Errorf("%w: status %d, message truncated", ErrWorker, status)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("%w: status %d", ErrWorker, status)
	}
	return fmt.Errorf("%w: %s", ErrWorker, msg)
}

// Detect runs the face model.
// Response: [Status:0][NumFaces uint32] then per face
// [Box 4xfloat32 x,y,w,h][Score float32][NumKeypoints uint32]
// and per keypoint [NameLen uint16][Name][X float32][Y float32].
func (w *PythonWorker) Detect(img image.Image) ([]types.Face, error) {
	resp, err := w.Communicate(encodeRequest(OpDetect, img))
	if err != nil {
		return nil, err
	}
	return decodeFaces(resp)
}

func decodeFaces(resp []byte) ([]types.Face, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}

	if int64(numFaces)*minFaceBytes > int64(r.Len()) {
		return nil, fmt.Errorf("face count %d does not fit a %d byte payload", numFaces, r.Len())
	}
	faces := make([]types.Face, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("read box %d: %w", i, err)
		}
		var score float32
		if err := binary.Read(r, binary.BigEndian, &score); err != nil {
			return nil, fmt.Errorf("read score %d: %w", i, err)
		}
		var numKp uint32
		if err := binary.Read(r, binary.BigEndian, &numKp); err != nil {
			return nil, fmt.Errorf("read keypoint count %d: %w", i, err)
		}

		face := types.Face{
			Box:   types.Box{X: float64(box[0]), Y: float64(box[1]), Width: float64(box[2]), Height: float64(box[3])},
			Score: float64(score),
		}
		for k := uint32(0); k < numKp; k++ {
			var nameLen uint16
			if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
				return nil, fmt.Errorf("read keypoint name length: %w", err)
			}
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(r, name); err != nil {
				return nil, fmt.Errorf("read keypoint name: %w", err)
			}
			var xy [2]float32
			if err := binary.Read(r, binary.BigEndian, &xy); err != nil {
				return nil, fmt.Errorf("read keypoint %q: %w", name, err)
			}
			if isBad(xy[0]) || isBad(xy[1]) {
				continue
			}
			face.Keypoints = append(face.Keypoints, types.Keypoint{Name: string(name), X: float64(xy[0]), Y: float64(xy[1])})
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func isBad(f float32) bool {
	return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
}

// Segment runs the person segmentation model.
// Response: [Status:0][W uint32][H uint32][W*H mask bytes, 0 = background].
func (w *PythonWorker) Segment(img image.Image) (*image.Alpha, error) {
	resp, err := w.Communicate(encodeRequest(OpSegment, img))
	if err != nil {
		return nil, err
	}
	return decodeMask(resp)
}

func decodeMask(resp []byte) (*image.Alpha, error) {
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}
	var dims [2]uint32
	if err := binary.Read(r, binary.BigEndian, &dims); err != nil {
		return nil, fmt.Errorf("read mask size: %w", err)
	}
	w, h := int(dims[0]), int(dims[1])
	if r.Len() != w*h {
		return nil, fmt.Errorf("mask payload is %d bytes, expected %dx%d", r.Len(), w, h)
	}
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if _, err := io.ReadFull(r, mask.Pix); err != nil {
		return nil, fmt.Errorf("read mask: %w", err)
	}
	return mask, nil
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
