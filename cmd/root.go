package cmd

import (
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var rootCmd = &cobra.Command{
	Use:   "mlproject",
	Short: "Train, resume and inspect ML projects",
	Long: `A command line tool driving the training loop of a project: it builds the model and
datasets from a run configuration file, trains until the configured budget is spent, keeps the
best checkpoint and reports to an MLflow tracking server or a local MLflow file store.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI (overrides MLFLOW_TRACKING_URI); empty disables tracking")
	rootCmd.PersistentFlags().String("experiment-id", "", "Experiment ID (overrides MLFLOW_EXPERIMENT_ID)")
	rootCmd.PersistentFlags().String("run-name", "", "Run name (default: timestamp-based)")
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
	viper.BindPFlag("run_name", rootCmd.PersistentFlags().Lookup("run-name"))

	// klog's -v, -logtostderr, ...
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("MLFLOW")
	viper.AutomaticEnv()

	// Also bind Databricks environment variables
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")

	viper.SetDefault("experiment_id", "0")
}
