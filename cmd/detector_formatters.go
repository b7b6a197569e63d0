package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gridsight/core"
)

// outputAsJSON writes any value as indented JSON to stdout.
func outputAsJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTrainingSummary displays the result of a training run.
func renderTrainingSummary(summary *core.TrainingSummary) {
	successColor.Println("Training complete")
	fmt.Println()

	printField("Model ID", summary.ModelID)
	printField("Version", summary.Version)
	printField("Rows Used", fmt.Sprintf("%d", summary.RowsParsed))
	printField("Rows Dropped", fmt.Sprintf("%d", summary.RowsDropped))
	printField("Trained At", summary.TrainedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Println()

	if summary.RowsDropped > 0 {
		warningColor.Printf("%d rows were dropped during parsing\n", summary.RowsDropped)
	}
	infoColor.Println(summary.Message)
}

// renderPredictionResult displays scoring statistics and the highest-scoring
// anomalies.
func renderPredictionResult(result *core.PredictionResult, top int) {
	headerColor.Println("PREDICTION RESULT")
	headerColor.Println(strings.Repeat("=", 100))

	printField("Total Records", fmt.Sprintf("%d", result.TotalRecords))
	printField("Anomalies", fmt.Sprintf("%d", result.AnomalyCount))
	printField("Anomaly Rate", fmt.Sprintf("%.2f%%", result.AnomalyPercentage))
	fmt.Println()

	if len(result.Anomalies) == 0 {
		successColor.Println("No anomalies detected")
		return
	}

	if top > len(result.Anomalies) {
		top = len(result.Anomalies)
	}

	errorColor.Printf("Top %d anomalies:\n", top)
	fmt.Printf("%-21s %-10s %-10s %-10s %-10s\n",
		"Timestamp", "Score", "Active kW", "Voltage", "Intensity")
	fmt.Println(strings.Repeat("-", 100))
	for _, a := range result.Anomalies[:top] {
		fmt.Printf("%-21s %-10.4f %-10.3f %-10.2f %-10.1f\n",
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.AnomalyScore,
			a.GlobalActivePower,
			a.Voltage,
			a.GlobalIntensity)
	}
	fmt.Println(strings.Repeat("=", 100))
}

// printField prints a label/value pair with aligned labels.
func printField(label, value string) {
	infoColor.Printf("  %-14s", label+":")
	fmt.Printf(" %s\n", value)
}
