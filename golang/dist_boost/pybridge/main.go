// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/tarstars/distributed_boosting/golang/dist_boost/dbl"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
	"gonum.org/v1/gonum/mat"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	models            = make(map[uint64]*dbl.Model)

	lastErrorMu sync.Mutex
	lastError   string

	quiet = log.New(io.Discard, "", 0)
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeModel(m *dbl.Model) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	models[handle] = m
	nextHandle++
	return handle
}

func fetchModel(handle uint64) (*dbl.Model, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	model, ok := models[handle]
	if !ok {
		return nil, errors.New("invalid model handle")
	}
	return model, nil
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(models, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

func buildDense(ptr *C.double, rows, cols C.int) (*mat.Dense, error) {
	r := int(rows)
	c := int(cols)
	if r <= 0 || c <= 0 {
		return nil, errors.New("invalid matrix dimensions")
	}
	data, err := copyFloatSlice(ptr, r*c)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r, c, data), nil
}

func buildTable(ptr *C.double, rows, cols C.int) (*table.Table, error) {
	dense, err := buildDense(ptr, rows, cols)
	if err != nil {
		return nil, err
	}
	return table.FromDense(dense)
}

func buildLoss(kind C.int) (dbl.SplitLoss, error) {
	switch kind {
	case 0:
		return dbl.MseLoss{}, nil
	case 1:
		return dbl.LogLoss{}, nil
	case 2:
		return dbl.PoissonLoss{}, nil
	default:
		return nil, errors.New("unsupported loss kind")
	}
}

//export TrainModel
func TrainModel(
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	targetPtr *C.double,
	partitionsNum C.int,
	nStages C.int,
	maxDepth C.int,
	maxBins C.int,
	learningRate C.double,
	regLambda C.double,
	minObservationsInLeaf C.int,
	lossKind C.int,
	threadsNum C.int,
) C.ulonglong {
	setLastError(nil)

	features, err := buildTable(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 0
	}
	target, err := buildTable(targetPtr, rows, 1)
	if err != nil {
		setLastError(err)
		return 0
	}
	loss, err := buildLoss(lossKind)
	if err != nil {
		setLastError(err)
		return 0
	}

	params := dbl.DefaultParams()
	params.MaxIterations = int(nStages)
	params.MaxTreeDepth = int(maxDepth)
	params.MaxBins = int(maxBins)
	params.LearningRate = float64(learningRate)
	params.Lambda = float64(regLambda)
	params.MinObservationsInLeafNode = int(minObservationsInLeaf)
	params.Loss = loss
	params.ThreadsNum = int(threadsNum)
	params.Logger = quiet

	partitions, err := dbl.SplitIntoPartitions(features, target, max(1, min(int(partitionsNum), int(rows))))
	if err != nil {
		setLastError(err)
		return 0
	}
	trainer, err := dbl.NewTrainer(params)
	if err != nil {
		setLastError(err)
		return 0
	}
	model, err := trainer.Train(context.Background(), partitions)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export Predict
func Predict(
	handle C.ulonglong,
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	outputPtr *C.double,
	treeLimit C.int,
) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}

	var limit *int
	if treeLimit > 0 {
		l := int(treeLimit)
		limit = &l
	}

	prediction, err := model.PredictValue(features, limit)
	if err != nil {
		setLastError(err)
		return 3
	}

	outSlice, err := sliceFromPtr(outputPtr, int(rows))
	if err != nil {
		setLastError(err)
		return 4
	}
	copy(outSlice, prediction.RawMatrix().Data)
	return 0
}

//export SaveModel
func SaveModel(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := model.Save(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export RenderTrees
func RenderTrees(handle C.ulonglong, prefix, figureType, directory *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	goPrefix := C.GoString(prefix)
	goFigureType := C.GoString(figureType)
	goDir := C.GoString(directory)
	if goPrefix == "" {
		goPrefix = "tree"
	}
	if goFigureType == "" {
		goFigureType = "svg"
	}
	if goDir == "" {
		goDir = "."
	}
	if err := model.RenderTrees(goPrefix, goFigureType, goDir); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export LoadModel
func LoadModel(path *C.char) C.ulonglong {
	setLastError(nil)
	model, err := dbl.LoadModel(C.GoString(path))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export DumpLearningCurves
func DumpLearningCurves(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := model.DumpLearningCurves(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
