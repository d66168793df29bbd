package pipeline

// Agent is the persona a stage prompts the model with.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
}

// Stage is one step of the analysis. Description may reference {file_path}
// and {query}. Context names earlier stages whose output is handed along.
type Stage struct {
	Name           string
	Agent          Agent
	Description    string
	ExpectedOutput string
	Context        []string
}

var (
	verifierAgent = Agent{
		Role: "Financial Document Verifier",
		Goal: "Thoroughly verify whether the uploaded document is a valid financial report and ensure extracted insights are accurate.",
		Backstory: "You are a meticulous compliance officer and financial document verifier. " +
			"You ensure that all data analyzed is accurate and properly classified before it is used for investment decisions.",
	}
	analystAgent = Agent{
		Role: "Senior Financial Analyst",
		Goal: "Analyze financial documents accurately and provide highly accurate, data-driven investment advice and market analysis based on the user query.",
		Backstory: "You are a seasoned Senior Financial Analyst with decades of experience at top-tier investment banks. " +
			"You excel at analyzing complex financial documents, extracting key metrics, and providing actionable, " +
			"regulatory-compliant investment insights. You rely strictly on verifiable facts.",
	}
	riskAgent = Agent{
		Role: "Risk Assessment Expert",
		Goal: "Identify and quantify financial and operational risks from corporate documents.",
		Backstory: "You are a Chief Risk Officer specializing in enterprise risk management and volatility analysis. " +
			"You accurately assess volatility, market conditions, and operational risks.",
	}
	advisorAgent = Agent{
		Role: "Investment Advisor",
		Goal: "Provide sound, risk-adjusted investment recommendations based on financial analysis.",
		Backstory: "You are a Certified Financial Planner known for prudent, evidence-based investment strategies. " +
			"You always prioritize client risk tolerance and regulatory compliance.",
	}
)

// DefaultStages returns verification, analysis, risk assessment and
// investment advice, in that order.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:           "verification",
			Agent:          verifierAgent,
			Description:    "Verify the document at path '{file_path}'. Ensure it is a valid financial report and extract the core financial figures.",
			ExpectedOutput: "A summary confirming the document type and a brief overview of the main financial metrics found.",
		},
		{
			Name:           "analysis",
			Agent:          analystAgent,
			Description:    "Analyze the verified financial document at '{file_path}' to address the user's query: '{query}'. Focus on the actual data provided.",
			ExpectedOutput: "A detailed, accurate financial analysis addressing the user's query, backed by specific numbers from the document.",
			Context:        []string{"verification"},
		},
		{
			Name:           "risk_assessment",
			Agent:          riskAgent,
			Description:    "Review the financial data at '{file_path}' in the context of the user's query: '{query}'. Identify any realistic market, operational, or financial risks.",
			ExpectedOutput: "A professional risk assessment report detailing potential vulnerabilities and mitigation strategies.",
			Context:        []string{"analysis"},
		},
		{
			Name:           "investment_advice",
			Agent:          advisorAgent,
			Description:    "Based on the analysis and risk assessment, provide actionable investment recommendations regarding the user's query: '{query}'.",
			ExpectedOutput: "A comprehensive investment recommendation plan, including risk-adjusted expected outcomes and verifiable data points.",
			Context:        []string{"analysis", "risk_assessment"},
		},
	}
}
