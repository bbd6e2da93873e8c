package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/tarstars/distributed_boosting/golang/dist_boost/dbl"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

func handleError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

//decodeConfig reads a JSON or a YAML config depending on the file extension.
func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	handleError(err)
	defer func() { handleError(file.Close()) }()

	switch strings.ToLower(filepath.Ext(srcConfig)) {
	case ".yaml", ".yml":
		handleError(yaml.NewDecoder(file).Decode(out))
	default:
		handleError(json.NewDecoder(file).Decode(out))
	}
}

type TestConfig struct {
	Description        string `json:"description" yaml:"description"`
	FileNameTestData   string `json:"filename_test_data" yaml:"filename_test_data"`
	FileNameTestTarget string `json:"filename_test_target" yaml:"filename_test_target"`
}

type TrainConfig struct {
	FileNameTrainData         string       `json:"filename_train_data" yaml:"filename_train_data"`
	FileNameTrainTarget       string       `json:"filename_train_target" yaml:"filename_train_target"`
	Tests                     []TestConfig `json:"tests" yaml:"tests"`
	FileNameModel             string       `json:"filename_model" yaml:"filename_model"`
	Partitions                int          `json:"partitions" yaml:"partitions"`
	NStages                   int          `json:"n_stages" yaml:"n_stages"`
	MaxDepth                  int          `json:"max_depth" yaml:"max_depth"`
	MaxBins                   int          `json:"max_bins" yaml:"max_bins"`
	MinBinSize                int          `json:"min_bin_size" yaml:"min_bin_size"`
	LearningRate              float64      `json:"learning_rate" yaml:"learning_rate"`
	RegLambda                 *float64     `json:"reg_lambda" yaml:"reg_lambda"` // nil keeps the default, 0 disables L2
	RegAlpha                  float64      `json:"reg_alpha" yaml:"reg_alpha"`
	MinSplitLoss              float64      `json:"min_split_loss" yaml:"min_split_loss"`
	MinObservationsInLeafNode int          `json:"min_observations_in_leaf" yaml:"min_observations_in_leaf"`
	MinChildWeight            float64      `json:"min_child_weight" yaml:"min_child_weight"`
	Loss                      string       `json:"loss" yaml:"loss"`
	Scorer                    string       `json:"scorer" yaml:"scorer"`
	ThreadsNum                int          `json:"threads_num" yaml:"threads_num"`
}

//params starts from the defaults and overrides what the config sets.
func (config TrainConfig) params() dbl.Params {
	params := dbl.DefaultParams()
	override := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	override(&params.MaxIterations, config.NStages)
	override(&params.MaxTreeDepth, config.MaxDepth)
	override(&params.MaxBins, config.MaxBins)
	override(&params.MinBinSize, config.MinBinSize)
	override(&params.MinObservationsInLeafNode, config.MinObservationsInLeafNode)
	params.ThreadsNum = config.ThreadsNum
	if config.LearningRate != 0 {
		params.LearningRate = config.LearningRate
	}
	if config.RegLambda != nil {
		params.Lambda = *config.RegLambda
	}
	params.Alpha = config.RegAlpha
	params.MinSplitLoss = config.MinSplitLoss
	params.MinChildWeight = config.MinChildWeight

	loss, err := dbl.LossByName(config.Loss)
	handleError(err)
	params.Loss = loss
	scorer, ok := dbl.ScorerByName(config.Scorer)
	if !ok {
		log.Fatalf("unknown scorer %q", config.Scorer)
	}
	params.Scorer = scorer
	return params
}

func evaluate(model *dbl.Model, description string, features, target *table.Table) {
	prediction, err := model.PredictValue(features.Dense(), nil)
	handleError(err)
	y, err := target.Column(0)
	handleError(err)
	log.Printf("%s: rmse %g\n", description, dbl.Rmse(y, mat.Col(nil, 0, prediction)))
}

func train(srcConfig string) {
	var trainConfig TrainConfig
	decodeConfig(srcConfig, &trainConfig)

	log.Println("load train")
	features, err := table.ReadNpy(trainConfig.FileNameTrainData)
	handleError(err)
	target, err := table.ReadNpy(trainConfig.FileNameTrainTarget)
	handleError(err)

	nPartitions := trainConfig.Partitions
	if nPartitions == 0 {
		nPartitions = runtime.GOMAXPROCS(0)
	}
	partitions, err := dbl.SplitIntoPartitions(features, target, nPartitions)
	handleError(err)

	trainer, err := dbl.NewTrainer(trainConfig.params())
	handleError(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	model, err := trainer.Train(ctx, partitions)
	handleError(err)

	evaluate(model, "train", features, target)
	for _, testConfig := range trainConfig.Tests {
		log.Println("load", testConfig.Description)
		testFeatures, err := table.ReadNpy(testConfig.FileNameTestData)
		handleError(err)
		testTarget, err := table.ReadNpy(testConfig.FileNameTestTarget)
		handleError(err)
		evaluate(model, testConfig.Description, testFeatures, testTarget)
	}

	handleError(model.Save(trainConfig.FileNameModel))
}

type PredictConfig struct {
	DataFileName       string `json:"filename_features" yaml:"filename_features"`
	ModelFileName      string `json:"filename_model" yaml:"filename_model"`
	PredictionFileName string `json:"filename_target" yaml:"filename_target"`
	TreesNumber        int    `json:"trees_number" yaml:"trees_number"`
}

func predict(srcConfig string) {
	var predictConfig PredictConfig
	decodeConfig(srcConfig, &predictConfig)

	features, err := table.ReadNpy(predictConfig.DataFileName)
	handleError(err)
	clf, err := dbl.LoadModel(predictConfig.ModelFileName)
	handleError(err)

	var optionalTreeNumber *int
	if predictConfig.TreesNumber != 0 {
		optionalTreeNumber = &predictConfig.TreesNumber
	}

	prediction, err := clf.PredictValue(features.Dense(), optionalTreeNumber)
	handleError(err)
	handleError(table.WriteNpy(predictConfig.PredictionFileName, prediction))
}

type LcurveConfig struct {
	DataFileName          string `json:"filename_features" yaml:"filename_features"`
	ModelFileName         string `json:"filename_model" yaml:"filename_model"`
	TargetFileName        string `json:"filename_target" yaml:"filename_target"`
	LearningCurveFileName string `json:"filename_learning_curve" yaml:"filename_learning_curve"`
}

//lcurve writes the rmse of the first k trees for every k.
func lcurve(srcConfig string) {
	var lcurveConfig LcurveConfig
	decodeConfig(srcConfig, &lcurveConfig)

	features, err := table.ReadNpy(lcurveConfig.DataFileName)
	handleError(err)
	target, err := table.ReadNpy(lcurveConfig.TargetFileName)
	handleError(err)
	if features.NumberOfRows() != target.NumberOfRows() {
		log.Panic("features and target have different heights")
	}
	y, err := target.Column(0)
	handleError(err)

	clf, err := dbl.LoadModel(lcurveConfig.ModelFileName)
	handleError(err)

	learningCurve := mat.NewDense(len(clf.Trees), 1, nil)
	for treesNumber := 1; treesNumber <= len(clf.Trees); treesNumber++ {
		n := treesNumber
		prediction, err := clf.PredictValue(features.Dense(), &n)
		handleError(err)
		learningCurve.Set(treesNumber-1, 0, dbl.Rmse(y, mat.Col(nil, 0, prediction)))
	}
	handleError(table.WriteNpy(lcurveConfig.LearningCurveFileName, learningCurve))
}

type GraphConfig struct {
	ModelFileName     string `json:"filename_model" yaml:"filename_model"`
	FigureType        string `json:"figure_type" yaml:"figure_type"`
	PicturesDirectory string `json:"pictures_directory" yaml:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix" yaml:"dump_prefix"`
}

func graph(srcConfig string) {
	var graphConfig GraphConfig
	decodeConfig(srcConfig, &graphConfig)

	clf, err := dbl.LoadModel(graphConfig.ModelFileName)
	handleError(err)
	handleError(clf.RenderTrees(graphConfig.DumpPrefix, graphConfig.FigureType, graphConfig.PicturesDirectory))
}

type ModelLearningCurvesConfig struct {
	PathToModel            string `json:"path_to_model" yaml:"path_to_model"`
	FilenameLearningCurves string `json:"filename_learning_curves" yaml:"filename_learning_curves"`
}

func getLearningCurves(srcConfig string) {
	var modelLearningCurves ModelLearningCurvesConfig
	decodeConfig(srcConfig, &modelLearningCurves)

	clf, err := dbl.LoadModel(modelLearningCurves.PathToModel)
	handleError(err)
	handleError(clf.DumpLearningCurves(modelLearningCurves.FilenameLearningCurves))
}

func main() {
	runMode := flag.String("mode", "train", "you can select either 'train', 'graph', 'predict', 'lcurve' or 'get_learning_curves' modes")
	config := flag.String("config", "dist_config.json", "a config file for the run of the program, json or yaml")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	mode, ok := map[string]func(string){
		"train":               train,
		"predict":             predict,
		"graph":               graph,
		"lcurve":              lcurve,
		"get_learning_curves": getLearningCurves,
	}[*runMode]
	if !ok {
		log.Fatalf("unknown mode %q", *runMode)
	}
	mode(*config)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		handleError(err)
		defer func() { handleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
