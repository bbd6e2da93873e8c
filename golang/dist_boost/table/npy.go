package table

import (
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadNpy reads the content of npy file into a table
func ReadNpy(fileName string) (*Table, error) {
	log.Print("\ttry to load <", fileName, ">")
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fileName)
	}
	defer func() { _ = f.Close() }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "npy header of %s", fileName)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, errors.Wrapf(err, "npy data of %s", fileName)
	}
	return FromDense(denseMat)
}

//WriteNpy stores a matrix as an npy file.
func WriteNpy(fileName string, m mat.Matrix) (err error) {
	dst, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "create %s", fileName)
	}
	defer func() {
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
	}()
	return npyio.Write(dst, m)
}
