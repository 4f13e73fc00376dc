package assistant

import "fmt"

// WelcomeMessage は会話開始時にアシスタントが最初に話す挨拶。
const WelcomeMessage = "Hello! Welcome to Quick Service Auto Center. I'm your virtual service assistant. " +
	"I can help you check for vehicle recalls, look up your service history, or schedule an appointment. " +
	"To get started, could you please provide your vehicle's VIN number, or let me know how I can help you today?"

// LookupVINPrompt は車両が未特定のときに言語モデルへ渡すシステム指示を組み立てる。
// 引数は抽出済みの発話テキストだけを受け取る。
func LookupVINPrompt(utterance string) string {
	return fmt.Sprintf("The user said: \"%s\"\n\n"+
		"Extract any VIN number mentioned if present and use the lookup_car function. \n"+
		"If no VIN is clearly stated, ask the user to provide it.\n"+
		"Remember: A VIN is exactly 17 characters, containing letters and numbers (no I, O, or Q).",
		utterance)
}
